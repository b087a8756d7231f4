package analysis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"strings"
	"time"

	"github.com/Songmu/retry"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"gopkg.in/yaml.v3"

	"sre-platform/internal/config"
	"sre-platform/internal/models"
)

//go:embed templates.yaml
var defaultTemplates []byte

var ErrNoTemplates = errors.New("no analysis templates configured")

// Input is what a generator gets to work from. Event is nil when the
// incident is not in the store.
type Input struct {
	EventID string
	Event   *models.Event
	Context map[string]any
}

// Generator produces the body of an analysis report.
type Generator interface {
	Name() string
	Generate(ctx context.Context, in Input) (*models.GeneratedReport, error)
}

// NewGenerator builds the generator named by cfg.Generator.
func NewGenerator(cfg config.AnalysisConfig) (Generator, error) {
	switch cfg.Generator {
	case "openai":
		return NewOpenAIGenerator(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), nil
	case "", "template":
		data := defaultTemplates
		if cfg.TemplatesFile != "" {
			raw, err := os.ReadFile(cfg.TemplatesFile)
			if err != nil {
				return nil, fmt.Errorf("read analysis templates: %w", err)
			}
			data = raw
		}
		return NewTemplateGenerator(data, 0)
	default:
		return nil, fmt.Errorf("unknown analysis generator %q", cfg.Generator)
	}
}

// TemplateGenerator answers from canned reports. The same event always
// gets the same template.
type TemplateGenerator struct {
	templates []models.GeneratedReport
	delay     time.Duration
}

// NewTemplateGenerator parses YAML with an analysis_templates list.
func NewTemplateGenerator(data []byte, delay time.Duration) (*TemplateGenerator, error) {
	var raw struct {
		Templates []map[string]any `yaml:"analysis_templates"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse analysis templates: %w", err)
	}
	if len(raw.Templates) == 0 {
		return nil, ErrNoTemplates
	}
	templates := make([]models.GeneratedReport, 0, len(raw.Templates))
	for i, t := range raw.Templates {
		doc, err := models.Normalize(t)
		if err != nil {
			return nil, fmt.Errorf("analysis template %d: %w", i, err)
		}
		var g models.GeneratedReport
		if err := models.Decode(doc, &g); err != nil {
			return nil, fmt.Errorf("analysis template %d: %w", i, err)
		}
		templates = append(templates, g)
	}
	return &TemplateGenerator{templates: templates, delay: delay}, nil
}

func (g *TemplateGenerator) Name() string { return "template" }

func (g *TemplateGenerator) Generate(ctx context.Context, in Input) (*models.GeneratedReport, error) {
	if len(g.templates) == 0 {
		return nil, ErrNoTemplates
	}
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	i := 0
	if in.EventID != "" {
		i = int(crc32.ChecksumIEEE([]byte(in.EventID)) % uint32(len(g.templates)))
	}
	// Round-trip through a document so callers get their own copy.
	doc, err := models.Normalize(g.templates[i])
	if err != nil {
		return nil, err
	}
	var out models.GeneratedReport
	if err := models.Decode(doc, &out); err != nil {
		return nil, err
	}
	if in.Event != nil && in.Event.Summary != "" {
		out.EventSummary = in.Event.Summary + ": " + out.EventSummary
	} else if out.EventSummary == "" {
		out.EventSummary = "Analysis of event " + in.EventID
	}
	return &out, nil
}

// OpenAIGenerator asks a chat model for the report as JSON.
type OpenAIGenerator struct {
	client   *openai.Client
	model    string
	attempts uint
	interval time.Duration
}

func NewOpenAIGenerator(apiKey, model, baseURL string) *OpenAIGenerator {
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	c := openai.NewClient(options...)
	return &OpenAIGenerator{client: &c, model: model, attempts: 3, interval: 3 * time.Second}
}

func (g *OpenAIGenerator) Name() string { return "openai" }

func (g *OpenAIGenerator) Generate(ctx context.Context, in Input) (*models.GeneratedReport, error) {
	prompt, err := buildPrompt(in)
	if err != nil {
		return nil, err
	}
	var (
		content string
		last    error
	)
	_ = retry.Retry(g.attempts, g.interval, func() error {
		resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model: g.model,
		})
		switch {
		case ctx.Err() != nil:
			last = ctx.Err()
			return nil
		case err != nil:
			last = err
			return err
		case len(resp.Choices) == 0:
			last = errors.New("no response from OpenAI")
			return last
		}
		content, last = resp.Choices[0].Message.Content, nil
		return nil
	})
	if last != nil {
		return nil, fmt.Errorf("openai analysis: %w", last)
	}
	return parseReport(content)
}

const promptHeader = `You are an SRE assistant. Analyse the incident below and answer with a
single JSON object and nothing else. Use these keys:
event_summary (string), root_cause_analysis {text, confidence_score 0..1,
probable_causes []string}, impact_assessment {text, user_impact,
duration_minutes, severity}, recommended_actions [{title, action_type, risk
(low|medium|high), summary}], evidence [{type, description}].

## Incident
`

func buildPrompt(in Input) (string, error) {
	var b strings.Builder
	b.WriteString(promptHeader)
	fmt.Fprintf(&b, "id: %s\n", in.EventID)
	if e := in.Event; e != nil {
		fmt.Fprintf(&b, "summary: %s\nseverity: %s\nstatus: %s\nresource: %s\n", e.Summary, e.Severity, e.Status, e.ResourceName)
		if e.Description != "" {
			fmt.Fprintf(&b, "description: %s\n", e.Description)
		}
		if len(e.Tags) > 0 {
			fmt.Fprintf(&b, "tags: %s\n", strings.Join(e.Tags, ", "))
		}
	}
	if len(in.Context) > 0 {
		raw, err := yaml.Marshal(in.Context)
		if err != nil {
			return "", fmt.Errorf("encode event context: %w", err)
		}
		b.WriteString("\n## Additional context\n")
		b.Write(raw)
	}
	return b.String(), nil
}

// parseReport reads the model's answer, tolerating a fenced code block.
func parseReport(content string) (*models.GeneratedReport, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	var out models.GeneratedReport
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode model answer: %w", err)
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	out.RawLLMResponse = raw
	return &out, nil
}
