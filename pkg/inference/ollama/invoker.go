package ollama

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/content"
	"github.com/go-go-golems/parley/pkg/inference"
)

// Settings configures the ollama-backed invoker.
type Settings struct {
	BaseURL string
	Model   string
}

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama2"
)

// Invoker calls a local or remote ollama server through its chat API.
// Image units with inline data are forwarded as ollama image attachments;
// everything else is flattened to display text.
type Invoker struct {
	client *api.Client
	model  string
}

var _ inference.Invoker = (*Invoker)(nil)

func NewInvoker(settings Settings) (*Invoker, error) {
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ollama base url %s", baseURL)
	}
	model := settings.Model
	if model == "" {
		model = defaultModel
	}
	return &Invoker{
		client: api.NewClient(base, http.DefaultClient),
		model:  model,
	}, nil
}

func (i *Invoker) Invoke(ctx context.Context, req inference.Request) (*inference.Response, error) {
	messages := makeMessages(req)
	log.Debug().
		Str("model", i.model).
		Int("num_messages", len(messages)).
		Msg("sending ollama chat request")

	stream := false
	var text strings.Builder
	err := i.client.Chat(ctx, &api.ChatRequest{
		Model:    i.model,
		Messages: messages,
		Stream:   &stream,
	}, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyError(err)
	}
	return &inference.Response{Text: text.String()}, nil
}

func makeMessages(req inference.Request) []api.Message {
	messages := []api.Message{}
	if req.SystemPrompt != nil {
		messages = append(messages, api.Message{
			Role:    "system",
			Content: *req.SystemPrompt,
		})
	}
	for _, msg := range req.History {
		messages = append(messages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content.DisplayText(),
		})
	}

	parts := []string{}
	images := []api.ImageData{}
	for _, pu := range req.NewContent.Materialize() {
		if pu.Kind == content.KindImage && len(pu.ImageData) > 0 {
			images = append(images, api.ImageData(pu.ImageData))
			continue
		}
		parts = append(parts, pu.Unit.String())
	}
	messages = append(messages, api.Message{
		Role:    "user",
		Content: strings.Join(parts, " "),
		Images:  images,
	})
	return messages
}

func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= http.StatusInternalServerError {
			return inference.NewTransientError(err, "ollama api error")
		}
		return inference.NewPermanentError(err, "ollama api rejected request")
	}
	return inference.NewTransientError(err, "ollama request failed")
}
