package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIChatModel      = openai.GPT4oMini
	defaultOpenAIEmbeddingModel = openai.SmallEmbedding3
)

// OpenAIService adapts any OpenAI-compatible API (OpenAI itself, Ollama, LM Studio)
// to the Embedder, ChatCompleter and TitleGenerator contracts.
type OpenAIService struct {
	client         *openai.Client
	chatModel      string
	embeddingModel openai.EmbeddingModel
}

type OpenAIOptions struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
}

func NewOpenAIService(opts OpenAIOptions) *OpenAIService {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	s := &OpenAIService{
		client:         openai.NewClientWithConfig(cfg),
		chatModel:      opts.ChatModel,
		embeddingModel: openai.EmbeddingModel(opts.EmbeddingModel),
	}
	if s.chatModel == "" {
		s.chatModel = defaultOpenAIChatModel
	}
	if s.embeddingModel == "" {
		s.embeddingModel = defaultOpenAIEmbeddingModel
	}
	return s
}

// ModelName identifies the embedding model for cache keys.
func (s *OpenAIService) ModelName() string {
	return "openai:" + string(s.embeddingModel)
}

func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fatalErr("openai", errors.New("text cannot be empty"))
	}
	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: s.embeddingModel,
	})
	if err != nil {
		return nil, classifyOpenAIError(fmt.Errorf("openai embedding request failed: %w", err))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, transientErr("openai", errors.New("no embedding data returned"))
	}
	return resp.Data[0].Embedding, nil
}

func (s *OpenAIService) Complete(ctx context.Context, turns []Turn, temperature float32) (string, error) {
	if len(turns) == 0 {
		return "", fatalErr("openai", errors.New("prompt history is empty for chat completion"))
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		switch t.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.chatModel,
		Messages:    messages,
		Temperature: temperature,
	})
	if err != nil {
		return "", classifyOpenAIError(fmt.Errorf("openai chat completion failed: %w", err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return emptyReplyText, nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *OpenAIService) GenerateTitle(ctx context.Context, basis string) (string, error) {
	title, err := s.Complete(ctx, []Turn{
		{Role: RoleSystem, Content: titleSystemInstruction},
		{Role: RoleUser, Content: fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: \"%s\".", basis)},
	}, 0.3)
	if err != nil {
		return "", err
	}
	if title == emptyReplyText {
		return "", fatalErr("openai", errors.New("LLM generated an empty title string"))
	}
	return cleanTitle(title), nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if kindForStatus(apiErr.HTTPStatusCode) == Transient {
			return transientErr("openai", err)
		}
		return fatalErr("openai", err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if kindForStatus(reqErr.HTTPStatusCode) == Transient {
			return transientErr("openai", err)
		}
		return fatalErr("openai", err)
	}
	if kindForTransport(err) == Transient {
		return transientErr("openai", err)
	}
	return fatalErr("openai", err)
}
