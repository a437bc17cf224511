package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"fridgeclinic/internal/config"
	"fridgeclinic/internal/faults"
	"fridgeclinic/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

var defaultModels = map[string]string{
	ProviderGemini: "gemini-2.0-flash-001",
	ProviderOpenAI: "gpt-4o-mini",
	ProviderClaude: "claude-3-5-sonnet-latest",
}

// Service answers chat turns with the configured provider. When web search
// is enabled the model runs behind a ReAct agent that may call the tools.
type Service struct {
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
	tools     []tool.BaseTool
	provider  string
	model     string
	reason    string
}

// NewService builds the chat model for cfg.Chat.Provider. A provider without
// a usable API key yields a Service whose Reply reports ErrNotConfigured.
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Chat.Provider))
	if provider == "" {
		provider = ProviderGemini
	}
	provCfg := cfg.Providers[provider]
	modelName := firstNonEmpty(cfg.Chat.Model, provCfg.Model, defaultModels[provider])

	s := &Service{provider: provider, model: modelName}
	if _, ok := defaultModels[provider]; !ok {
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if config.IsPlaceholder(provCfg.APIKey) {
		s.reason = fmt.Sprintf("api key for %s not configured", provider)
		slog.Warn("chat assistant disabled", "provider", provider, "reason", s.reason)
		return s, nil
	}

	chatModel, err := newChatModel(ctx, provider, modelName, provCfg)
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	s.chatModel = chatModel

	if cfg.Chat.EnableWebSearch {
		s.tools = InitToolsChain(cfg.Chat)
	}
	if len(s.tools) > 0 {
		s.agent, err = react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: s.tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
	}
	slog.Info("chat assistant ready", "provider", provider, "model", modelName, "tools", len(s.tools))
	return s, nil
}

func newChatModel(ctx context.Context, provider, modelName string, provCfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	switch provider {
	case ProviderOpenAI:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelName,
			APIKey:  provCfg.APIKey,
		})
	case ProviderGemini:
		clientCfg := &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
		if provCfg.BaseURL != "" {
			clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: provCfg.BaseURL}
		}
		client, err := genai.NewClient(ctx, clientCfg)
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
	case ProviderClaude:
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

func (s *Service) Provider() string { return s.provider }
func (s *Service) Model() string    { return s.model }

// Available reports whether Reply can reach a model.
func (s *Service) Available() bool {
	return s != nil && s.chatModel != nil
}

// Reply streams the model's answer to messages and returns the full text.
// onChunk, when set, receives the accumulated text after every chunk.
func (s *Service) Reply(ctx context.Context, conversationID string, messages []models.Message, onChunk func(string) error) (string, error) {
	if !s.Available() {
		reason := "chat model unavailable"
		if s != nil && s.reason != "" {
			reason = s.reason
		}
		return "", fmt.Errorf("%w: %s", faults.ErrNotConfigured, reason)
	}
	if len(messages) == 0 {
		return "", errors.New("messages cannot be empty")
	}
	appliance, _ := ApplianceFromContext(ctx)
	appliance.ConversationID = conversationID
	ctx = WithAppliance(ctx, appliance)
	input := convertMessages(messages)

	var (
		streamReader *schema.StreamReader[*schema.Message]
		err          error
	)
	if s.agent != nil {
		streamReader, err = s.agent.Stream(ctx, input)
	} else {
		streamReader, err = s.chatModel.Stream(ctx, input)
	}
	if err != nil {
		return "", fmt.Errorf("%w: ai stream: %v", faults.ErrGenerationFailed, err)
	}
	defer streamReader.Close()

	var full strings.Builder
	for {
		chunk, err := streamReader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: ai stream recv: %v", faults.ErrGenerationFailed, err)
		}
		full.WriteString(chunk.Content)
		if onChunk != nil {
			if err := onChunk(full.String()); err != nil {
				return "", err
			}
		}
	}
	text := strings.TrimSpace(full.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty reply", faults.ErrGenerationFailed)
	}
	return text, nil
}

func convertMessages(history []models.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
