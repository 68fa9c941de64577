package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"
	defaultTitleModelName     = "gemini-1.5-flash-latest"

	titleSystemInstruction = "You are a helpful assistant that generates concise titles for journal chat conversations. " +
		"The title should be 3-5 words maximum. Just return the title itself, nothing else."

	emptyReplyText = "I'm sorry, I couldn't generate a response at this time. Please try again."
)

// LLMService adapts the Gemini API to the Embedder, ChatCompleter and
// TitleGenerator contracts.
type LLMService struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	titleModel     string
	logger         *slog.Logger
}

type LLMOptions struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
}

func NewLLMService(ctx context.Context, opts LLMOptions, logger *slog.Logger) (*LLMService, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &LLMService{
		client:         client,
		chatModel:      opts.ChatModel,
		embeddingModel: opts.EmbeddingModel,
		titleModel:     defaultTitleModelName,
		logger:         logger,
	}
	if s.chatModel == "" {
		s.chatModel = defaultChatModelName
	}
	if s.embeddingModel == "" {
		s.embeddingModel = defaultEmbeddingModelName
	}
	return s, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("error closing GenAI client", "error", err)
		} else {
			s.logger.Info("GenAI client closed")
		}
	}
}

// ModelName identifies the embedding model for cache keys.
func (s *LLMService) ModelName() string {
	return "gemini:" + s.embeddingModel
}

func (s *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fatalErr("gemini", errors.New("text cannot be empty"))
	}
	em := s.client.EmbeddingModel(s.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, classifyGeminiError(fmt.Errorf("gemini embedding request failed: %w", err))
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, transientErr("gemini", errors.New("no embedding data received from gemini"))
	}
	return res.Embedding.Values, nil
}

// Complete folds system turns into the system instruction, replays the rest as
// chat history and sends the final user turn.
func (s *LLMService) Complete(ctx context.Context, turns []Turn, temperature float32) (string, error) {
	var system []string
	var history []*genai.Content
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			system = append(system, t.Content)
		case RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(t.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(t.Content)}})
		}
	}
	if len(history) == 0 {
		return "", fatalErr("gemini", errors.New("prompt history is empty for chat completion"))
	}
	last := history[len(history)-1]
	if last.Role != "user" {
		return "", fatalErr("gemini", errors.New("last message in history is not from 'user', cannot proceed with chat completion"))
	}

	model := s.client.GenerativeModel(s.chatModel)
	model.SetTemperature(temperature)
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))},
		}
	}

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", classifyGeminiError(fmt.Errorf("gemini chat SendMessage failed: %w", err))
	}

	text := responseText(resp)
	if text == "" {
		s.logger.Warn("gemini response was empty or had no text parts")
		return emptyReplyText, nil
	}
	return text, nil
}

func (s *LLMService) GenerateTitle(ctx context.Context, basis string) (string, error) {
	model := s.client.GenerativeModel(s.titleModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(titleSystemInstruction)},
	}

	temp := float32(0.3)
	maxTokens := int32(20)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	prompt := fmt.Sprintf("Generate a very concise title (3-5 words maximum) for a conversation that starts with or is about: \"%s\".", basis)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyGeminiError(fmt.Errorf("gemini title generation request failed: %w", err))
	}

	title := responseText(resp)
	if title == "" {
		return "", fatalErr("gemini", errors.New("LLM generated an empty title string"))
	}
	return cleanTitle(title), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if kindForStatus(apiErr.Code) == Transient {
			return transientErr("gemini", err)
		}
		return fatalErr("gemini", err)
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return fatalErr("gemini", err)
	}
	if kindForTransport(err) == Transient {
		return transientErr("gemini", err)
	}
	return fatalErr("gemini", err)
}

func cleanTitle(title string) string {
	return strings.Trim(title, "\"'\n\r\t .")
}
