package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"ArxivMind/internal/domain"
)

// DefaultMaxInputRunes bounds the body text sent with each request.
const DefaultMaxInputRunes = 30000

const defaultSystemPrompt = "You are a senior AI researcher who explains papers to engineers and to the public. Always answer with a single JSON object."

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func resultValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
			c, ok := domain.ParseCategory(fl.Field().String())
			return ok && string(c) == fl.Field().String()
		})
		validate = v
	})
	return validate
}

// chatMessage is one turn of an OpenAI-compatible conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatRequest is the chat completions request body shared by the live and
// batch clients.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// promptBuilder renders the analysis request for one paper.
type promptBuilder struct {
	model         string
	systemPrompt  string
	temperature   float64
	maxInputRunes int
}

func (p promptBuilder) request(title, body string) chatRequest {
	system := strings.TrimSpace(p.systemPrompt)
	if system == "" {
		system = defaultSystemPrompt
	}
	return chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: BuildPrompt(title, Truncate(body, p.maxInputRunes))},
		},
		Temperature:    p.temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
}

// Truncate keeps the first limit runes of text.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultMaxInputRunes
	}
	if len(text) <= limit {
		return text
	}
	runes := 0
	for i := range text {
		if runes == limit {
			return text[:i]
		}
		runes++
	}
	return text
}

// BuildPrompt renders the user message asking for the structured report.
func BuildPrompt(title, body string) string {
	names := make([]string, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		names = append(names, c.String())
	}

	var sb strings.Builder
	sb.WriteString("Read the full paper below and produce a detailed JSON report with exactly these keys.\n\n")
	fmt.Fprintf(&sb, "1. category: the single best matching area, one of: %s.\n", strings.Join(names, ", "))
	sb.WriteString("2. motivation: what problem the work addresses and why it matters.\n")
	sb.WriteString("3. method: the approach, explained clearly but without skipping the key ideas.\n")
	sb.WriteString("4. result: the main experimental findings and metrics.\n")
	sb.WriteString("5. implementation_example: a small step-by-step example of how the method could be implemented, as if demoing it to a developer.\n")
	sb.WriteString("6. popular_science: a plain-language explanation with an everyday analogy for non-specialists.\n")
	sb.WriteString("7. keywords: 3-5 English keywords separated by commas.\n\n")
	fmt.Fprintf(&sb, "Title: %s\n", strings.TrimSpace(title))
	fmt.Fprintf(&sb, "Body:\n%s\n", body)
	return sb.String()
}

type rawAnalysis struct {
	Category              *string         `json:"category"`
	Motivation            *string         `json:"motivation"`
	Method                *string         `json:"method"`
	Result                *string         `json:"result"`
	ImplementationExample *string         `json:"implementation_example"`
	PopularScience        *string         `json:"popular_science"`
	Keywords              json.RawMessage `json:"keywords"`
}

// ParseAnalysis validates the model's JSON content. Every failure is an
// AnalysisError of kind schema.
func ParseAnalysis(content string) (domain.AnalysisResult, error) {
	content = stripCodeFence(content)

	var raw rawAnalysis
	dec := json.NewDecoder(strings.NewReader(content))
	if err := dec.Decode(&raw); err != nil {
		return domain.AnalysisResult{}, domain.NewSchemaError(fmt.Errorf("decode analysis json: %w", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return domain.AnalysisResult{}, domain.NewSchemaError(errors.New("decode analysis json: trailing content after object"))
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(content)); err != nil {
		return domain.AnalysisResult{}, domain.NewSchemaError(fmt.Errorf("compact analysis json: %w", err))
	}

	keywords, err := decodeKeywords(raw.Keywords)
	if err != nil {
		return domain.AnalysisResult{}, domain.NewSchemaError(err)
	}

	result := domain.AnalysisResult{
		Motivation:            deref(raw.Motivation),
		Method:                deref(raw.Method),
		Result:                deref(raw.Result),
		ImplementationExample: deref(raw.ImplementationExample),
		PopularScience:        deref(raw.PopularScience),
		Keywords:              keywords,
		Raw:                   compact.Bytes(),
	}
	if raw.Category != nil {
		if c, ok := domain.ParseCategory(*raw.Category); ok {
			result.Category = c
		} else {
			result.Category = domain.Category(strings.TrimSpace(*raw.Category))
		}
	}

	if err := resultValidator().Struct(result); err != nil {
		return domain.AnalysisResult{}, domain.NewSchemaError(fmt.Errorf("validate analysis: %w", err))
	}

	return result, nil
}

func decodeKeywords(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		return strings.TrimSpace(joined), nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", fmt.Errorf("keywords must be a string or a list of strings")
	}
	return strings.Join(list, ", "), nil
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// parseCompletion extracts and validates the first choice of a chat completion body.
func parseCompletion(body []byte) (domain.AnalysisResult, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.AnalysisResult{}, domain.NewSchemaError(fmt.Errorf("decode completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return domain.AnalysisResult{}, domain.NewSchemaError(fmt.Errorf("completion has no choices"))
	}
	return ParseAnalysis(resp.Choices[0].Message.Content)
}
