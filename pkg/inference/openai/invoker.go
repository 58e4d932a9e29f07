package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/parley/pkg/content"
	"github.com/go-go-golems/parley/pkg/inference"
)

// Settings configures the OpenAI-backed invoker.
type Settings struct {
	APIKey  string
	Model   string
	BaseURL string
}

const defaultModel = "gpt-3.5-turbo"

// Invoker calls the OpenAI chat-completions API. History messages are sent
// as display text; the new structured content is converted to a multimodal
// message so image units reach the model as image parts.
type Invoker struct {
	client *go_openai.Client
	model  string
}

var _ inference.Invoker = (*Invoker)(nil)

func NewInvoker(settings Settings) (*Invoker, error) {
	if settings.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	config := go_openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		config.BaseURL = settings.BaseURL
	}
	model := settings.Model
	if model == "" {
		model = defaultModel
	}
	return &Invoker{
		client: go_openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

func (i *Invoker) Invoke(ctx context.Context, req inference.Request) (*inference.Response, error) {
	messages := makeMessages(req)
	log.Debug().
		Str("model", i.model).
		Int("num_messages", len(messages)).
		Msg("sending chat completion request")

	resp, err := i.client.CreateChatCompletion(ctx, go_openai.ChatCompletionRequest{
		Model:    i.model,
		Messages: messages,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, inference.NewPermanentError(nil, "response contains no choices")
	}
	return &inference.Response{Text: resp.Choices[0].Message.Content}, nil
}

func makeMessages(req inference.Request) []go_openai.ChatCompletionMessage {
	messages := []go_openai.ChatCompletionMessage{}
	if req.SystemPrompt != nil {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: *req.SystemPrompt,
		})
	}
	for _, msg := range req.History {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content.DisplayText(),
		})
	}
	messages = append(messages, makeUserMessage(req.NewContent))
	return messages
}

func makeUserMessage(body *content.StructuredContent) go_openai.ChatCompletionMessage {
	parts := []go_openai.ChatMessagePart{}
	hasImage := false
	for _, pu := range body.Materialize() {
		switch pu.Kind {
		case content.KindText:
			parts = append(parts, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeText,
				Text: pu.Text,
			})
		case content.KindImage:
			hasImage = true
			imageURL := pu.ImageRef
			if len(pu.ImageData) > 0 {
				imageURL = fmt.Sprintf("data:%s;base64,%s",
					pu.MediaType, base64.StdEncoding.EncodeToString(pu.ImageData))
			}
			parts = append(parts, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeImageURL,
				ImageURL: &go_openai.ChatMessageImageURL{
					URL:    imageURL,
					Detail: go_openai.ImageURLDetailAuto,
				},
			})
		case content.KindStructured:
			parts = append(parts, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeText,
				Text: pu.Unit.String(),
			})
		}
	}

	if !hasImage {
		// Plain text form when no image parts are present; some
		// completion-compatible backends reject MultiContent.
		return go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleUser,
			Content: body.DisplayText(),
		}
	}
	return go_openai.ChatCompletionMessage{
		Role:         go_openai.ChatMessageRoleUser,
		MultiContent: parts,
	}
}

func classifyError(err error) error {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError {
			return inference.NewTransientError(err, "openai api error")
		}
		return inference.NewPermanentError(err, "openai api rejected request")
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode >= http.StatusInternalServerError {
			return inference.NewTransientError(err, "openai request error")
		}
		return inference.NewPermanentError(err, "openai request error")
	}
	// Network-level failures are worth retrying.
	return inference.NewTransientError(err, "openai request failed")
}
