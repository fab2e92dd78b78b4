// Package llm drafts mutation payloads with a language model. The model is
// an untrusted proposer: everything it returns is raw bytes that must pass
// the same schema validation and sandboxing as any other payload.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"strategos/internal/evo"
	"strategos/internal/factor"
	"strategos/internal/model"
)

// Config selects the model endpoint.
type Config struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

func (c Config) validate() error {
	if c.APIKey == "" {
		return errors.New("llm api_key is required")
	}
	if c.Model == "" {
		return errors.New("llm model is required")
	}
	return nil
}

// Client proposes parameter payloads through an OpenAI-compatible endpoint.
type Client struct {
	api    *openai.Client
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{api: openai.NewClientWithConfig(apiCfg), cfg: cfg, logger: logger}, nil
}

const configSystemPrompt = `You tune parameters of trading strategy factors.
Reply with a single JSON object of the form
{"factor_id": "<id>", "parameters": {"<name>": <number>}}.
Only use factor ids and parameter names from the schema. Keep every value
inside its stated range. Use the performance figures and the list of recently
rejected mutations, when present, to pick a better override. No prose, no
markdown.`

// ProposeConfig asks the model for one parameter override for the strategy
// in the context. The reply is returned verbatim; the caller validates it.
func (c *Client) ProposeConfig(ctx context.Context, mc evo.MutationContext) ([]byte, error) {
	prompt, err := userPrompt(mc)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: float32(c.cfg.Temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: configSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("llm completion: empty response")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Debug("llm proposal", "strategy", mc.Graph.ID, "payload", content)
	return []byte(content), nil
}

// userPrompt renders the tunable surface plus whatever the run has learned:
// the strategy's current metrics and the reasons recent proposals were
// rejected.
func userPrompt(mc evo.MutationContext) (string, error) {
	schema, err := describeFactors(mc.Graph)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Tunable factors:\n")
	b.WriteString(schema)
	if mc.PriorMetrics != (model.Metrics{}) {
		fmt.Fprintf(&b, "\nCurrent performance: sharpe=%.4f calmar=%.4f max_drawdown=%.4f return=%.4f stability=%.4f",
			mc.PriorMetrics.Sharpe, mc.PriorMetrics.Calmar, mc.PriorMetrics.MaxDrawdown,
			mc.PriorMetrics.Return, mc.PriorMetrics.Stability)
	}
	if len(mc.PriorRejections) > 0 {
		b.WriteString("\nRecently rejected mutations: ")
		b.WriteString(strings.Join(mc.PriorRejections, "; "))
	}
	return b.String(), nil
}

// describeFactors renders the tunable surface of a strategy as a compact
// JSON schema for the prompt.
func describeFactors(g model.StrategyGraph) (string, error) {
	type paramDesc struct {
		Name    string  `json:"name"`
		Min     float64 `json:"min"`
		Max     float64 `json:"max"`
		Current float64 `json:"current"`
	}
	type factorDesc struct {
		ID     string      `json:"id"`
		Type   string      `json:"type"`
		Params []paramDesc `json:"params"`
	}

	ids := make([]string, 0, len(g.Factors))
	for id := range g.Factors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var described []factorDesc
	for _, id := range ids {
		f := g.Factors[id]
		def, err := factor.Resolve(f.Type)
		if err != nil || len(def.Params) == 0 {
			continue
		}
		d := factorDesc{ID: id, Type: f.Type}
		for _, spec := range def.Params {
			d.Params = append(d.Params, paramDesc{
				Name:    spec.Name,
				Min:     spec.Min,
				Max:     spec.Max,
				Current: f.Parameters[spec.Name],
			})
		}
		described = append(described, d)
	}
	if len(described) == 0 {
		return "", errors.New("strategy has no tunable factors")
	}
	out, err := json.Marshal(described)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Stub is a deterministic offline proposer: it moves the first parameter of
// the first tunable factor toward the middle of its range. Used when no
// model endpoint is configured, and in tests.
type Stub struct{}

func (Stub) ProposeConfig(_ context.Context, mc evo.MutationContext) ([]byte, error) {
	g := mc.Graph
	ids := make([]string, 0, len(g.Factors))
	for id := range g.Factors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := g.Factors[id]
		def, err := factor.Resolve(f.Type)
		if err != nil || len(def.Params) == 0 {
			continue
		}
		spec := def.Params[0]
		mid := spec.Min + (spec.Max-spec.Min)/2
		value := (f.Parameters[spec.Name] + mid) / 2
		payload := map[string]any{
			"factor_id":  id,
			"parameters": map[string]float64{spec.Name: spec.Clamp(value)},
		}
		return json.Marshal(payload)
	}
	return nil, errors.New("strategy has no tunable factors")
}
