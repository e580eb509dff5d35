package main

import "concept-rag/internal/cli"

func main() {
	cli.Execute()
}
