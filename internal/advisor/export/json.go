package export

import (
	"encoding/json"
	"fmt"

	"gap-advisor/internal/common/validation"
	"gap-advisor/internal/models"
)

// documentSchema pins the JSON export shape.
var documentSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["conversation", "messages"],
  "additionalProperties": false,
  "properties": {
    "conversation": {
      "type": "object",
      "required": ["id", "analysisId", "userId", "variantIds", "createdAt", "updatedAt"]
    },
    "messages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "seq", "role", "content", "metadata", "createdAt"],
        "properties": {
          "role": {"enum": ["user", "assistant"]},
          "content": {"type": "string"},
          "metadata": {
            "type": "object",
            "required": ["kind"],
            "properties": {"kind": {"enum": ["user", "assistant"]}}
          }
        }
      }
    },
    "analysis": {"type": "object", "required": ["id", "title"]}
  }
}`)

type jsonDocument struct {
	Conversation models.Conversation `json:"conversation"`
	Messages     []models.Message    `json:"messages"`
	Analysis     *models.Analysis    `json:"analysis,omitempty"`
}

type JSONRenderer struct{}

func (JSONRenderer) ContentType() string { return "application/json" }
func (JSONRenderer) Extension() string   { return "json" }

func (JSONRenderer) Render(doc *Document) ([]byte, error) {
	out := jsonDocument{
		Conversation: doc.Conversation,
		Messages:     doc.Messages,
		Analysis:     doc.Analysis,
	}
	if out.Messages == nil {
		out.Messages = []models.Message{}
	}
	if out.Conversation.VariantIDs == nil {
		out.Conversation.VariantIDs = []string{}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := documentSchema.ValidateJSON(data).Err(); err != nil {
		return nil, fmt.Errorf("json export: %w", err)
	}
	return data, nil
}
