// Package oracle wraps the generative-AI calls: syllabus extraction, file
// classification, and search-intent parsing. Every call fails closed (the
// caller sees an empty result, never an error) and every response is treated
// as an untrusted proposal until validated against the user's own folder map.
package oracle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docorganizer/docorganizer/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// callTimeout bounds every oracle round trip. Expiry reads as oracle failure.
const callTimeout = 60 * time.Second

// maxInlineDocumentBytes caps how much of a text document is inlined into the
// prompt.
const maxInlineDocumentBytes = 64 * 1024

// completer is the slice of the OpenAI client the oracle needs. Tests swap in
// a canned implementation.
type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client is the oracle adapter.
type Client struct {
	api     completer
	model   string
	schemas *schemaSet
	logger  *slog.Logger
}

// NewClient creates the oracle adapter over the OpenAI API.
func NewClient(apiKey, model string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
		logger.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	logger.Info("Initializing oracle client", "model", model)
	return &Client{api: openai.NewClient(apiKey), model: model, schemas: schemas, logger: logger}, nil
}

// Proposal is the oracle's sorting suggestion for an uploaded file. The
// subject and unit are NOT guaranteed to exist in the user's folder map.
type Proposal struct {
	Subject       string `json:"subject"`
	Unit          string `json:"unit"`
	SuggestedName string `json:"suggested_filename"`
}

// Empty reports whether classification failed or produced nothing usable.
func (p Proposal) Empty() bool {
	return p.Subject == ""
}

// Intent is the oracle's reading of a free-text message.
type Intent struct {
	IsSearch bool   `json:"is_search"`
	Subject  string `json:"subject"`
	Keyword  string `json:"keyword"`
}

// ExtractSyllabus turns a downloaded syllabus document into subject -> units.
// The fixed utility subjects are injected into every successful extraction;
// an empty map means extraction failed and the user should retry.
func (c *Client) ExtractSyllabus(ctx context.Context, filePath string) models.Syllabus {
	prompt := `Analyze this syllabus document. Extract the list of Subjects including Labs and their Units/Modules.

Return ONLY a JSON object with this exact structure:
{
    "subjects": {
        "Subject Name 1": ["Unit 1 Name", "Unit 2 Name"],
        "Subject Name 2": ["Unit 1 Name", "Unit 2 Name"]
    }
}

Rules:
- Simplify Subject Names (e.g., "Database Management Systems" -> "DBMS").
- If units don't have names, just use ["Unit 1", "Unit 2", ...].`

	raw, err := c.completeWithFile(ctx, prompt, filePath)
	if err != nil {
		c.logger.Warn("syllabus extraction failed", "file", filePath, "error", err.Error())
		return models.Syllabus{}
	}

	if err := c.schemas.validate(c.schemas.extraction, raw); err != nil {
		c.logger.Warn("syllabus extraction returned unexpected shape", "error", err.Error())
		return models.Syllabus{}
	}

	var parsed struct {
		Subjects models.Syllabus `json:"subjects"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Subjects) == 0 {
		c.logger.Warn("syllabus extraction produced no subjects")
		return models.Syllabus{}
	}

	for _, def := range UtilitySubjects() {
		parsed.Subjects[def.Name] = def.Units
	}
	return parsed.Subjects
}

// ClassifyFile asks the oracle to place an uploaded file within the user's
// subjects and units. Only names are sent; ids confuse the model.
func (c *Client) ClassifyFile(ctx context.Context, filePath string, folderNames map[string][]string) Proposal {
	candidates, err := json.Marshal(folderNames)
	if err != nil {
		return Proposal{}
	}

	prompt := fmt.Sprintf(`You are a Document Sorter.
Analyze the attached file.
Match it to one of these Subjects and Units:
%s

Return STRICT JSON:
{
  "subject": "Exact Subject Name",
  "unit": "Exact Unit Name",
  "suggested_filename": "descriptive_name_with_underscores.pdf"
}`, candidates)

	raw, err := c.completeWithFile(ctx, prompt, filePath)
	if err != nil {
		c.logger.Warn("file classification failed", "file", filePath, "error", err.Error())
		return Proposal{}
	}

	if err := c.schemas.validate(c.schemas.classification, raw); err != nil {
		c.logger.Warn("file classification returned unexpected shape", "error", err.Error())
		return Proposal{}
	}

	var proposal Proposal
	if err := json.Unmarshal(raw, &proposal); err != nil {
		return Proposal{}
	}
	return proposal
}

// ClassifyIntent decides whether a free-text message is a file search, and if
// so which subject and keyword it targets. Failure reads as "not a search".
func (c *Client) ClassifyIntent(ctx context.Context, text string, folderNames map[string][]string) Intent {
	candidates, err := json.Marshal(folderNames)
	if err != nil {
		return Intent{}
	}

	prompt := fmt.Sprintf(`You are a chat intent parser for a document organizer.
The user's folders are:
%s

The user said: %q

Decide if the user is asking to FIND/RETRIEVE files. Return STRICT JSON:
{
  "is_search": true or false,
  "subject": "Exact Subject Name from the folders above, or empty string",
  "keyword": "short search keyword from the message, or empty string"
}`, candidates, text)

	raw, err := c.complete(ctx, prompt)
	if err != nil {
		c.logger.Warn("intent classification failed", "error", err.Error())
		return Intent{}
	}

	if err := c.schemas.validate(c.schemas.intent, raw); err != nil {
		c.logger.Warn("intent classification returned unexpected shape", "error", err.Error())
		return Intent{}
	}

	var intent Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return Intent{}
	}
	return intent
}

func (c *Client) complete(ctx context.Context, prompt string) ([]byte, error) {
	return c.completeParts(ctx, []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt},
	})
}

// completeWithFile attaches the file to the prompt: images ride along as a
// vision part, anything else is inlined as (truncated) text.
func (c *Client) completeWithFile(ctx context.Context, prompt, filePath string) ([]byte, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt},
	}

	if mime := imageMime(filePath); mime != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(content)),
			},
		})
	} else {
		if len(content) > maxInlineDocumentBytes {
			content = content[:maxInlineDocumentBytes]
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: "Document content:\n" + string(content),
		})
	}

	return c.completeParts(ctx, parts)
}

func (c *Client) completeParts(ctx context.Context, parts []openai.ChatMessagePart) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("oracle call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("oracle returned no choices")
	}

	// Some models wrap JSON in code fences despite the response format.
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.Trim(text, "`")
	return []byte(strings.TrimSpace(text)), nil
}

func imageMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
