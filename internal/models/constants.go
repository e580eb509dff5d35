package models

const (
	SectionPrefixRegex = `^(Chapter|CHAPTER|Section|SECTION)\b`
	PageHeadingRegex   = `^Page\s+(\d+)$`
	CodeFenceRegex     = "(?s)^```(?:json)?\\s*(.*?)\\s*```$"
	ThinkTag           = `(?s)<think>.*?</think>`
	ContextSeparator   = "\n\n"
	NoContextText      = "No specific context available."
)

var (
	NoteSystemPrompt = `You are a financial education expert. You write concise, accurate concept notes for students and answer only with JSON.`

	NotePromptTemplate = `Generate a concept note for the following financial concept.

Concept: %s

Context:
%s

Instructions:
1. Provide a clear, accurate definition (2-3 sentences).
2. Include the mathematical formula if one applies, otherwise null.
3. Give a practical numerical example with calculations.
4. List 3-5 real-world applications.

Answer with a single JSON object with exactly these keys:
{"concept_name": string, "definition": string, "formula": string or null, "example": string, "applications": [string]}
Use the provided context when it is relevant.`

	RelevancePromptTemplate = `Is "%s" a concept that belongs to finance, economics, accounting, investing or business? Answer with a single word: yes or no.`
)
