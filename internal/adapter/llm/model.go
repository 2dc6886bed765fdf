// Package llm adapts langchaingo chat models to domain.LanguageModel.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/couchcryptid/advisory-alert-etl/internal/config"
	"github.com/couchcryptid/advisory-alert-etl/internal/domain"
)

// Defaults are the fixed call parameters of one logical model.
type Defaults struct {
	Temperature float64
	MaxTokens   int
}

var (
	// VisionDefaults apply to page transcription.
	VisionDefaults = Defaults{Temperature: 0.1, MaxTokens: 4096}
	// StructureDefaults apply to structured extraction.
	StructureDefaults = Defaults{Temperature: 0, MaxTokens: 2048}
)

// Model is a langchaingo model bound to its defaults.
type Model struct {
	llm      llms.Model
	name     string
	defaults Defaults
}

// Wrap binds an existing langchaingo model to defaults.
func Wrap(m llms.Model, name string, d Defaults) *Model {
	return &Model{llm: m, name: name, defaults: d}
}

// NewModel creates the named model for the configured provider.
func NewModel(cfg *config.Config, name string, d Defaults) (*Model, error) {
	var (
		m   llms.Model
		err error
	)

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(name)}
		if cfg.LLMBaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.LLMBaseURL))
		}
		m, err = ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.LLMAPIKey == "" {
			return nil, errors.New("LLM_API_KEY is required for openai")
		}
		opts := []openai.Option{openai.WithToken(cfg.LLMAPIKey), openai.WithModel(name)}
		if cfg.LLMBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.LLMBaseURL))
		}
		m, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.LLMAPIKey == "" {
			return nil, errors.New("LLM_API_KEY is required for anthropic")
		}
		m, err = anthropic.New(
			anthropic.WithToken(cfg.LLMAPIKey),
			anthropic.WithModel(name),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return Wrap(m, name, d), nil
}

// Registry holds the models used by the pipeline.
type Registry struct {
	Vision    *Model
	Structure *Model
}

// NewRegistry creates the vision and structure models from cfg.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	vision, err := NewModel(cfg, cfg.VisionModel, VisionDefaults)
	if err != nil {
		return nil, fmt.Errorf("vision model: %w", err)
	}
	structure, err := NewModel(cfg, cfg.StructureModel, StructureDefaults)
	if err != nil {
		return nil, fmt.Errorf("structure model: %w", err)
	}
	return &Registry{Vision: vision, Structure: structure}, nil
}

// Name returns the provider model name.
func (m *Model) Name() string { return m.name }

// Call sends messages and returns the first choice's text.
func (m *Model) Call(ctx context.Context, messages []domain.Message) (string, error) {
	resp, err := m.llm.GenerateContent(ctx, toMessageContent(messages),
		llms.WithTemperature(m.defaults.Temperature),
		llms.WithMaxTokens(m.defaults.MaxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", m.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: no response choices", m.name)
	}
	return resp.Choices[0].Content, nil
}

func toMessageContent(messages []domain.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		mc := llms.MessageContent{Role: chatRole(msg.Role)}
		if msg.Text != "" {
			mc.Parts = append(mc.Parts, llms.TextContent{Text: msg.Text})
		}
		for _, img := range msg.Images {
			mc.Parts = append(mc.Parts, llms.BinaryPart(img.MIMEType, img.Data))
		}
		out = append(out, mc)
	}
	return out
}

func chatRole(r domain.Role) llms.ChatMessageType {
	switch r {
	case domain.RoleSystem:
		return llms.ChatMessageTypeSystem
	case domain.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
