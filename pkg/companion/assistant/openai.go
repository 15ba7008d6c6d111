package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/seniorsense/companion/pkg/companion/conversation"
	"github.com/seniorsense/companion/pkg/companion/insight"
)

const (
	DefaultChatModel    = "gpt-4o-2024-08-06"
	DefaultEmotionModel = "gpt-3.5-turbo"

	chatMaxTokens    = 125
	emotionMaxTokens = 10
	samplingTemp     = 0.3
)

const chatSystemPrompt = `You are an assistant designed to help seniors by engaging them in conversations about their well-being, including physical health, mobility, diet, emotional health, sleep patterns, medication, social engagement, and daily routines. Be empathetic, concise, and focused on their needs.
Use the following dimensions to guide your conversations:
1. Physical Health and Well-being
2. Mobility and Exercise
3. Bathroom Habits and Hygiene
4. Diet and Eating Habits
5. Mental and Emotional Health
6. Sleep Patterns and Energy Levels
7. Medication and Medical Care
8. Social and Cognitive Engagement
9. Daily Routines and Assistance.
Ask relevant questions from these categories and respond in a helpful and supportive manner.
Preferably respond in one or two sentences, more like a coach checking on the user's emotional health anchored in the bullets above.
If the user seems fine and does not want to chat much, politely end the conversation while letting them know they can chat later if needed.

Additionally, after your response, on a new line, add either "END_CONVERSATION: true" if you believe the conversation should end, or "END_CONVERSATION: false" if it should continue.`

const emotionSystemPrompt = `You are an AI trained to analyze the emotional content of conversations. Your task is to determine the overall mood of the speaker based on their words. Respond with only one of these four options: Stressed, Anxious, Normal or Cheerful.`

// OpenAI serves the assistant and emotion roles directly against the OpenAI
// API, for deployments that do not front a separate assistant service.
type OpenAI struct {
	client       openai.Client
	chatModel    openai.ChatModel
	emotionModel openai.ChatModel
	logger       *slog.Logger
}

type OpenAIOption func(*OpenAI)

// WithChatModel overrides the conversation model.
func WithChatModel(model string) OpenAIOption {
	return func(s *OpenAI) { s.chatModel = openai.ChatModel(model) }
}

// WithEmotionModel overrides the mood-classification model.
func WithEmotionModel(model string) OpenAIOption {
	return func(s *OpenAI) { s.emotionModel = openai.ChatModel(model) }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) OpenAIOption {
	return func(s *OpenAI) { s.logger = logger }
}

// WithRequestOptions appends raw client options (base URL, HTTP client).
func WithRequestOptions(opts ...option.RequestOption) OpenAIOption {
	return func(s *OpenAI) {
		s.client = openai.NewClient(append(s.client.Options, opts...)...)
	}
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	s := &OpenAI{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		chatModel:    DefaultChatModel,
		emotionModel: DefaultEmotionModel,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat runs one assistant turn. The trailing END_CONVERSATION marker emitted
// by the model is stripped from the reply and returned as a flag.
func (s *OpenAI) Chat(ctx context.Context, message, history string) (conversation.AssistantReply, error) {
	txID := uuid.NewString()
	s.logger.Info("chat request", "transaction_id", txID)

	system := chatSystemPrompt + "\n\nHere's the conversation history:\n" + history
	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.chatModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(message),
		},
		MaxTokens:   openai.Int(chatMaxTokens),
		Temperature: openai.Float(samplingTemp),
	})
	if err != nil {
		s.logger.Error("chat request failed", "transaction_id", txID, "err", err)
		return conversation.AssistantReply{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(completion.Choices) == 0 {
		return conversation.AssistantReply{}, fmt.Errorf("openai chat: no choices returned")
	}

	text, end := splitEndMarker(completion.Choices[0].Message.Content)
	if text == "" {
		return conversation.AssistantReply{}, fmt.Errorf("openai chat: empty reply")
	}
	s.logger.Info("chat response", "transaction_id", txID, "end_conversation", end)
	return conversation.AssistantReply{Text: text, EndConversation: end}, nil
}

// AnalyzeEmotion classifies the transcript's overall mood. Any reply outside
// the four known moods is an error.
func (s *OpenAI) AnalyzeEmotion(ctx context.Context, transcript string) (insight.Mood, error) {
	txID := uuid.NewString()
	s.logger.Info("emotion analysis request", "transaction_id", txID)

	user := fmt.Sprintf("Analyze the following conversation transcript and determine the speaker's mood: %q", transcript)
	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.emotionModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(emotionSystemPrompt),
			openai.UserMessage(user),
		},
		MaxTokens:   openai.Int(emotionMaxTokens),
		Temperature: openai.Float(samplingTemp),
	})
	if err != nil {
		s.logger.Error("emotion analysis failed", "transaction_id", txID, "err", err)
		return "", fmt.Errorf("openai emotion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openai emotion: no choices returned")
	}

	mood, err := insight.ParseMood(completion.Choices[0].Message.Content)
	if err != nil {
		s.logger.Error("invalid mood reply", "transaction_id", txID, "err", err)
		return "", fmt.Errorf("openai emotion: %w", err)
	}
	s.logger.Info("emotion analyzed", "transaction_id", txID, "mood", string(mood))
	return mood, nil
}

// splitEndMarker separates the assistant text from the END_CONVERSATION
// marker the model appends on its final line. A missing marker means the
// conversation continues.
func splitEndMarker(full string) (string, bool) {
	text, flag, found := strings.Cut(full, "END_CONVERSATION:")
	if !found {
		return strings.TrimSpace(full), false
	}
	return strings.TrimSpace(text), strings.TrimSpace(flag) == "true"
}
