// Package llm provides the model-backed summarizer and classifier used when merging
// memory records. Model routing is by name prefix: "claude*" models go to the
// Anthropic API, everything else to an OpenAI-compatible endpoint.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"

	"github.com/driftlock/turnbridge/internal/turns"
)

const (
	defaultSummaryModel  = "gpt-4.1-mini"
	defaultClassifyModel = "gpt-4.1-mini"
	maxCompletionTokens  = 512
)

const summarySystemPrompt = "You condense one user/assistant exchange into a single sentence. " +
	"Reply with the sentence only: no preamble, no quotes, no markdown."

const classifySystemPrompt = "You label one user/assistant exchange. Reply with a JSON object " +
	`{"kind":"task|decision|preference|fact","importance":"low|medium|high"} and nothing else.`

type Options struct {
	Log *slog.Logger

	AnthropicAPIKey  string
	AnthropicBaseURL string
	OpenAIAPIKey     string
	OpenAIBaseURL    string

	SummaryModel  string
	ClassifyModel string
}

// Client implements turns.Summarizer and turns.Classifier.
type Client struct {
	log *slog.Logger

	anthropic    anthropic.Client
	hasAnthropic bool
	openai       openai.Client
	hasOpenAI    bool

	summaryModel  string
	classifyModel string
}

func New(opts Options) (*Client, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		log:           log,
		summaryModel:  strings.TrimSpace(opts.SummaryModel),
		classifyModel: strings.TrimSpace(opts.ClassifyModel),
	}
	if c.summaryModel == "" {
		c.summaryModel = defaultSummaryModel
	}
	if c.classifyModel == "" {
		c.classifyModel = defaultClassifyModel
	}

	if key := strings.TrimSpace(opts.AnthropicAPIKey); key != "" {
		aopts := []aoption.RequestOption{aoption.WithAPIKey(key)}
		if base := strings.TrimSpace(opts.AnthropicBaseURL); base != "" {
			aopts = append(aopts, aoption.WithBaseURL(base))
		}
		c.anthropic = anthropic.NewClient(aopts...)
		c.hasAnthropic = true
	}
	if key := strings.TrimSpace(opts.OpenAIAPIKey); key != "" {
		oopts := []ooption.RequestOption{ooption.WithAPIKey(key)}
		if base := strings.TrimSpace(opts.OpenAIBaseURL); base != "" {
			oopts = append(oopts, ooption.WithBaseURL(base))
		}
		c.openai = openai.NewClient(oopts...)
		c.hasOpenAI = true
	}
	if !c.hasAnthropic && !c.hasOpenAI {
		return nil, errors.New("no model provider configured")
	}
	return c, nil
}

func (c *Client) Summarize(ctx context.Context, input, assistant string) (string, error) {
	out, err := c.complete(ctx, c.summaryModel, summarySystemPrompt, exchangePrompt(input, assistant))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) Classify(ctx context.Context, input, assistant string) (turns.Classification, error) {
	out, err := c.complete(ctx, c.classifyModel, classifySystemPrompt, exchangePrompt(input, assistant))
	if err != nil {
		return turns.Classification{}, err
	}
	return parseClassification(out)
}

func exchangePrompt(input, assistant string) string {
	return "User:\n" + strings.TrimSpace(input) + "\n\nAssistant:\n" + strings.TrimSpace(assistant)
}

func (c *Client) complete(ctx context.Context, model, system, user string) (string, error) {
	if strings.HasPrefix(strings.ToLower(model), "claude") {
		return c.completeAnthropic(ctx, model, system, user)
	}
	return c.completeOpenAI(ctx, model, system, user)
}

func (c *Client) completeAnthropic(ctx context.Context, model, system, user string) (string, error) {
	if !c.hasAnthropic {
		return "", fmt.Errorf("model %q requires an anthropic api key", model)
	}
	resp, err := c.anthropic.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxCompletionTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(user))},
	})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}

func (c *Client) completeOpenAI(ctx context.Context, model, system, user string) (string, error) {
	if !c.hasOpenAI {
		return "", fmt.Errorf("model %q requires an openai api key", model)
	}
	resp, err := c.openai.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		MaxTokens: openai.Int(maxCompletionTokens),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

func parseClassification(raw string) (turns.Classification, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return turns.Classification{}, errors.New("empty classification response")
	}
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```JSON")
		candidate = strings.TrimPrefix(candidate, "```")
		candidate = strings.TrimSuffix(candidate, "```")
		candidate = strings.TrimSpace(candidate)
	}
	type payload struct {
		Kind       string `json:"kind"`
		Importance string `json:"importance"`
	}
	parse := func(text string) (payload, error) {
		var p payload
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return payload{}, err
		}
		return p, nil
	}
	parsed, err := parse(candidate)
	if err != nil {
		embedded := extractFirstJSONObject(candidate)
		if embedded == "" {
			return turns.Classification{}, fmt.Errorf("invalid classification response: %w", err)
		}
		parsed, err = parse(embedded)
		if err != nil {
			return turns.Classification{}, fmt.Errorf("invalid classification payload: %w", err)
		}
	}
	return turns.Classification{
		Kind:       normalizeKind(parsed.Kind),
		Importance: normalizeImportance(parsed.Importance),
	}, nil
}

func extractFirstJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func normalizeKind(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "task":
		return "task"
	case "decision":
		return "decision"
	case "preference":
		return "preference"
	default:
		return "fact"
	}
}

func normalizeImportance(importance string) string {
	switch strings.ToLower(strings.TrimSpace(importance)) {
	case "low":
		return "low"
	case "high":
		return "high"
	default:
		return "medium"
	}
}
