// Package ai talks to the generative backends: eino chat models for text and
// the genai client for image understanding.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/logging"
	"relaybot/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

var (
	ErrEmptyInput        = errors.New("ai: empty input")
	ErrEmptyResponse     = errors.New("ai: empty response")
	ErrNoImage           = errors.New("ai: no image supplied")
	ErrVisionUnavailable = errors.New("ai: vision backend not configured")
)

const (
	DefaultVisionPrompt = "Describe what is in this image."
	defaultTimeout      = 60 * time.Second
	claudeMaxTokens     = 3000
)

// Service implements text and vision generation. It holds no conversation
// state; callers pass the history on every call.
type Service struct {
	chat         model.BaseChatModel
	agent        *react.Agent
	vision       *genai.Client
	visionModel  string
	systemPrompt string
	timeout      time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewService builds the chat model for cfg.Provider. Vision needs a gemini key;
// without one DescribeImage returns ErrVisionUnavailable.
func NewService(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (*Service, error) {
	logger = logging.OrDiscard(logger)
	provCfg, ok := cfg.Providers[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", cfg.Provider)
	}

	var (
		chatModel    model.ToolCallingChatModel
		geminiClient *genai.Client
		err          error
	)
	switch cfg.Provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		geminiClient, err = newGeminiClient(ctx, provCfg.APIKey)
		if err != nil {
			return nil, err
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: geminiClient,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: claudeMaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", cfg.Provider, err)
	}

	if geminiClient == nil {
		if g, ok := cfg.Providers["gemini"]; ok && g.APIKey != "" {
			geminiClient, err = newGeminiClient(ctx, g.APIKey)
			if err != nil {
				return nil, err
			}
		} else {
			logger.Warn("vision disabled: no gemini api key configured")
		}
	}

	var agent *react.Agent
	if cfg.WebSearch {
		if tools := newToolsChain(ctx, cfg.Search, logger); len(tools) > 0 {
			agent, err = react.NewAgent(ctx, &react.AgentConfig{
				ToolCallingModel: chatModel,
				ToolsConfig: compose.ToolsNodeConfig{
					Tools: tools,
				},
			})
			if err != nil {
				return nil, fmt.Errorf("init react agent: %w", err)
			}
		}
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger.Info("ai service ready",
		"provider", cfg.Provider,
		"model", provCfg.Model,
		"vision_model", cfg.VisionModel,
		"vision", geminiClient != nil,
		"web_search", agent != nil,
	)
	return &Service{
		chat:         chatModel,
		agent:        agent,
		vision:       geminiClient,
		visionModel:  cfg.VisionModel,
		systemPrompt: strings.TrimSpace(cfg.SystemPrompt),
		timeout:      timeout,
		httpClient:   &http.Client{Timeout: ImageFetchTimeout},
		logger:       logger,
	}, nil
}

func newGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return client, nil
}

// GenerateText sends history plus the new input and returns the model reply.
func (s *Service) GenerateText(ctx context.Context, history []*models.Message, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyInput
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	messages := buildMessages(s.systemPrompt, history, input)
	var (
		out *schema.Message
		err error
	)
	if s.agent != nil {
		out, err = s.agent.Generate(ctx, messages)
	} else {
		out, err = s.chat.Generate(ctx, messages)
	}
	if err != nil {
		// backends do not always wrap the context error
		if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
			return "", fmt.Errorf("generate text: %w (%v)", cerr, err)
		}
		return "", fmt.Errorf("generate text: %w", err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(out.Content), nil
}

// DescribeImage asks the vision model about one image. Each call stands alone.
func (s *Service) DescribeImage(ctx context.Context, img *models.Image, prompt string) (string, error) {
	if img.Empty() {
		return "", ErrNoImage
	}
	if s.vision == nil {
		return "", ErrVisionUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, mimeType, err := loadImage(ctx, s.httpClient, img)
	if err != nil {
		return "", err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = DefaultVisionPrompt
	}
	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText(prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	res, err := s.vision.Models.GenerateContent(ctx, s.visionModel, contents, nil)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil && !errors.Is(err, cerr) {
			return "", fmt.Errorf("describe image: %w (%v)", cerr, err)
		}
		return "", fmt.Errorf("describe image: %w", err)
	}
	text := ""
	if res != nil {
		text = strings.TrimSpace(res.Text())
	}
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// buildMessages converts stored history into eino messages.
func buildMessages(systemPrompt string, history []*models.Message, input string) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, schema.SystemMessage(systemPrompt))
	}
	for _, msg := range history {
		if msg == nil || msg.Content == "" {
			continue
		}
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return append(messages, schema.UserMessage(input))
}
