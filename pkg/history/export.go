package history

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/parley/pkg/conversation"
)

// Human-oriented export document. This is a one-way rendering for review and
// archival; the JSON record written by the store remains the lossless form.

type exportDocument struct {
	ConversationID string          `yaml:"conversation_id"`
	SystemPrompt   *string         `yaml:"system_prompt,omitempty"`
	CreatedAt      time.Time       `yaml:"created_at"`
	UpdatedAt      time.Time       `yaml:"updated_at"`
	Messages       []exportMessage `yaml:"messages"`
}

type exportMessage struct {
	ID        string       `yaml:"id"`
	Role      string       `yaml:"role"`
	CreatedAt time.Time    `yaml:"created_at"`
	Display   string       `yaml:"display"`
	Units     []exportUnit `yaml:"units,omitempty"`
}

type exportUnit struct {
	Position int                    `yaml:"position"`
	Kind     string                 `yaml:"kind"`
	Text     string                 `yaml:"text,omitempty"`
	ImageRef string                 `yaml:"image_ref,omitempty"`
	Data     map[string]interface{} `yaml:"data,omitempty"`
	Metadata map[string]interface{} `yaml:"metadata,omitempty"`
}

// ExportYAML renders a conversation state as a YAML document.
func ExportYAML(state *conversation.State) ([]byte, error) {
	doc := exportDocument{
		ConversationID: state.ID,
		SystemPrompt:   state.SystemPrompt,
		CreatedAt:      state.CreatedAt,
		UpdatedAt:      state.UpdatedAt,
	}
	for _, msg := range state.Messages {
		em := exportMessage{
			ID:        msg.ID.String(),
			Role:      string(msg.Role),
			CreatedAt: msg.CreatedAt,
			Display:   msg.Content.DisplayText(),
		}
		for _, pu := range msg.Content.Materialize() {
			eu := exportUnit{
				Position: pu.Position,
				Kind:     string(pu.Kind),
				Text:     pu.Text,
				ImageRef: pu.ImageRef,
				Data:     pu.Structured,
				Metadata: pu.Metadata,
			}
			em.Units = append(em.Units, eu)
		}
		doc.Messages = append(doc.Messages, em)
	}
	return yaml.Marshal(doc)
}
