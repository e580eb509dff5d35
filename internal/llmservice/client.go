package llmservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"concept-rag/internal/config"
	"concept-rag/internal/helper"
	"concept-rag/internal/models"
)

const (
	PathLLM      = "llm"
	PathTemplate = "template"
)

var (
	codeFenceRe = regexp.MustCompile(models.CodeFenceRegex)
	thinkRe     = regexp.MustCompile(models.ThinkTag)
)

// NewModel builds the chat model named by cfg.
func NewModel(cfg *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", cfg.Provider).Str("model", cfg.Model).Msg("Creating chat model")
	switch cfg.Provider {
	case "openai", "":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// Client writes concept notes and judges domain relevance.
type Client struct {
	llm             llms.Model
	model           string
	temperature     float64
	maxTokens       int
	relevancePrompt string
}

// New wraps llm; a nil llm makes every note come from the template.
func New(llm llms.Model, cfg *config.Config) *Client {
	return &Client{
		llm:             llm,
		model:           cfg.InferenceLLM.Model,
		temperature:     cfg.InferenceLLM.Temperature,
		maxTokens:       cfg.InferenceLLM.MaxTokens,
		relevancePrompt: cfg.Relevance.Prompt,
	}
}

func (c *Client) ModelName() string {
	if c.llm == nil {
		return PathTemplate
	}
	return c.model
}

// Available reports whether a model is configured.
func (c *Client) Available() bool {
	return c.llm != nil
}

// Generation is a note plus how it was produced.
type Generation struct {
	Fields models.NoteFields
	Path   string
	Model  string
}

// GenerateNote asks the model for a JSON note grounded on chunks. Any model
// or decode failure yields the template note instead of an error. The
// concept name is always the requested one.
func (c *Client) GenerateNote(ctx context.Context, concept string, chunks []models.RetrievedChunk, source string) Generation {
	if c.llm == nil {
		return Generation{Fields: TemplateNote(concept, source), Path: PathTemplate, Model: PathTemplate}
	}

	prompt := fmt.Sprintf(models.NotePromptTemplate, concept, BuildContext(chunks))
	raw, err := c.generateContent(ctx, models.NoteSystemPrompt, prompt, true)
	if err != nil {
		log.Warn().Err(err).Str("concept", concept).Msg("Generation failed, using template")
		return Generation{Fields: TemplateNote(concept, source), Path: PathTemplate, Model: c.model}
	}

	fields, err := ParseNote(raw)
	if err != nil {
		log.Warn().Err(err).Str("concept", concept).Str("response", helper.Truncate(raw, 200)).Msg("Could not decode model output, using template")
		return Generation{Fields: TemplateNote(concept, source), Path: PathTemplate, Model: c.model}
	}
	fields.ConceptName = concept
	fields.Source = source
	log.Info().Str("concept", concept).Str("source", source).Msg("Generated concept note")
	return Generation{Fields: fields, Path: PathLLM, Model: c.model}
}

// CheckRelevance asks the model whether concept belongs to the finance and
// business domain. The answer must start with "yes".
func (c *Client) CheckRelevance(ctx context.Context, concept string) (bool, error) {
	if c.llm == nil {
		return false, errors.New("no language model configured")
	}
	prompt := c.relevancePrompt
	if strings.Contains(prompt, "%s") {
		prompt = fmt.Sprintf(prompt, concept)
	} else {
		prompt = prompt + "\n\nConcept: " + concept
	}
	raw, err := c.generateContent(ctx, "", prompt, false)
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(thinkRe.ReplaceAllString(raw, "")))
	answer = strings.Trim(answer, " .!\"'*")
	relevant := strings.HasPrefix(answer, "yes")
	log.Debug().Str("concept", concept).Str("answer", answer).Bool("relevant", relevant).Msg("Relevance check")
	return relevant, nil
}

func (c *Client) generateContent(ctx context.Context, system, prompt string, jsonMode bool) (string, error) {
	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}
	if jsonMode {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	return resp.Choices[0].Content, nil
}

// BuildContext formats chunks as "[Page N]: text" blocks. Chunks without a
// page (such as encyclopedia text) are labelled by their source instead.
func BuildContext(chunks []models.RetrievedChunk) string {
	if len(chunks) == 0 {
		return models.NoContextText
	}
	blocks := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		label := "N/A"
		switch {
		case ch.Page > 0:
			label = fmt.Sprint(ch.Page)
		case ch.ID != "":
			label = ch.ID
		}
		blocks = append(blocks, fmt.Sprintf("[Page %s]: %s", label, ch.Text))
	}
	return strings.Join(blocks, models.ContextSeparator)
}

// ParseNote decodes a model answer, tolerating think tags and markdown code
// fences around the JSON object.
func ParseNote(raw string) (models.NoteFields, error) {
	s := strings.TrimSpace(thinkRe.ReplaceAllString(raw, ""))
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	var out struct {
		models.NoteFields
		Formula json.RawMessage `json:"formula"`
		// page citations come from retrieval, never from the model
		PDFReferences json.RawMessage `json:"pdf_references"`
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return models.NoteFields{}, fmt.Errorf("invalid note json: %w", err)
	}
	fields := out.NoteFields
	fields.Formula = formulaString(out.Formula)
	fields.PDFReferences = nil
	if strings.TrimSpace(fields.Definition) == "" {
		return models.NoteFields{}, errors.New("note json has no definition")
	}
	return fields, nil
}

// formulaString accepts a string, null or any other JSON value for formula.
func formulaString(raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	v := string(raw)
	return &v
}

// TemplateNote is the deterministic note used when generation is unavailable.
func TemplateNote(concept, source string) models.NoteFields {
	return models.NoteFields{
		ConceptName:  concept,
		Definition:   fmt.Sprintf("%s is a financial concept. A detailed note could not be generated at this time.", concept),
		Example:      models.DefaultExample,
		Applications: []string{models.DefaultApplication},
		Source:       source,
	}
}
