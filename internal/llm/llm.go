package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/bugsage/internal/models"
)

// Triage is the model's assessment of a bug report.
type Triage struct {
	Priority models.BugPriority `json:"priority"`
	Summary  string             `json:"summary"`
	Reason   string             `json:"reason"`
}

// Client wraps the Anthropic API for bug triage.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildTriagePrompt constructs the system and user prompts for bug triage.
func buildTriagePrompt(title, description string, projects []string) (system string, user string) {
	system = `You triage bug reports for a bug tracker. Return ONLY a JSON object with these fields:
- "priority": one of "Low", "Medium", "High", "Critical"
- "summary": a one-sentence restatement of the defect suitable for a bug title
- "reason": one or two sentences explaining the priority

Rules:
- "Critical" is for data loss, security problems, or the whole product being unusable
- "High" is for a core feature broken with no workaround
- "Medium" is the default when impact is unclear
- "Low" is for cosmetic problems or issues with an easy workaround
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	if len(projects) > 0 {
		sb.WriteString("Known projects: ")
		sb.WriteString(strings.Join(projects, ", "))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Bug title: ")
	sb.WriteString(title)
	sb.WriteString("\n")
	if description != "" {
		sb.WriteString("\nDescription:\n")
		sb.WriteString(description)
		sb.WriteString("\n")
	}
	user = sb.String()
	return
}

// stripFencing removes a surrounding markdown code fence, if present.
func stripFencing(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// parseTriage decodes the model's reply. Unknown priorities fall back to
// Medium.
func parseTriage(text string) (*Triage, error) {
	text = stripFencing(text)
	var t Triage
	if err := json.Unmarshal([]byte(text), &t); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	for _, p := range models.BugPriorities {
		if strings.EqualFold(string(t.Priority), string(p)) {
			t.Priority = p
		}
	}
	if !t.Priority.Valid() {
		t.Priority = models.BugPriorityMedium
	}
	t.Summary = strings.TrimSpace(t.Summary)
	t.Reason = strings.TrimSpace(t.Reason)
	return &t, nil
}

// TriageBug asks the model for a priority and summary of a bug report.
func (c *Client) TriageBug(ctx context.Context, title, description string, projects []string) (*Triage, error) {
	systemPrompt, userPrompt := buildTriagePrompt(title, description, projects)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return parseTriage(text)
}
