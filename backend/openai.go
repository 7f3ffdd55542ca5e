package backend

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/justapithecus/llmer/types"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o"

// defaultImageType is assumed for images whose type could not be sniffed.
const defaultImageType = "image/jpeg"

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// Timeout bounds a whole request including the streamed body.
	// Zero leaves the SDK default.
	Timeout time.Duration
}

// OpenAIClient streams chat completions from an OpenAI-compatible API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a client. The SDK's own retries are disabled;
// a failed request surfaces to the session as-is.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// Model returns the configured model.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Submit starts a streaming completion for the given turns.
// A request the API rejects outright is returned as a *BackendError.
func (c *OpenAIClient) Submit(ctx context.Context, turns []types.Turn) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: ToMessages(turns),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, wrapOpenAIError("submit", err)
	}
	return &openAIStream{stream: stream}, nil
}

// ToMessages converts conversation turns into chat messages, preserving order.
func ToMessages(turns []types.Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Speaker {
		case types.SpeakerSystem:
			msgs = append(msgs, openai.SystemMessage(t.Text))
		case types.SpeakerAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Text))
		default:
			msgs = append(msgs, userMessage(t))
		}
	}
	return msgs
}

func userMessage(t types.Turn) openai.ChatCompletionMessageParamUnion {
	user := &openai.ChatCompletionUserMessageParam{}
	if t.Name != "" {
		user.Name = openai.String(t.Name)
	}

	if t.Image == nil {
		user.Content = openai.ChatCompletionUserMessageParamContentUnion{
			OfString: openai.String(t.Text),
		}
		return openai.ChatCompletionMessageParamUnion{OfUser: user}
	}

	user.Content = openai.ChatCompletionUserMessageParamContentUnion{
		OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(t.Text),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: DataURL(t.Image),
			}),
		},
	}
	return openai.ChatCompletionMessageParamUnion{OfUser: user}
}

// DataURL renders image bytes as a base64 data URL.
func DataURL(img *types.Image) string {
	contentType := img.ContentType
	if contentType == "" {
		contentType = defaultImageType
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

type openAIStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	current Delta
}

func (s *openAIStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			// Usage-only chunks carry no choices.
			continue
		}
		choice := chunk.Choices[0]
		s.current = Delta{
			Content:      choice.Delta.Content,
			Done:         choice.FinishReason != "",
			FinishReason: choice.FinishReason,
		}
		return true
	}
	return false
}

func (s *openAIStream) Current() Delta {
	return s.current
}

func (s *openAIStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return wrapOpenAIError("stream", err)
	}
	return nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

func wrapOpenAIError(op string, err error) error {
	be := &BackendError{Op: op, Kind: BackendErrorTransport, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		be.StatusCode = apiErr.StatusCode
		be.Kind = KindForStatus(apiErr.StatusCode)
	}
	return be
}
