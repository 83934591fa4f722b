package frames

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// TextValue is a text payload that the backend sends either as a plain JSON
// string or as an object of the form {"text": "..."}.
type TextValue string

func (v *TextValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = ""
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*v = TextValue(text)
		return nil
	}

	var object struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &object); err != nil {
		return fmt.Errorf("text value must be a string or an object with text: %w", err)
	}
	*v = TextValue(object.Text)
	return nil
}

func (TextValue) JSONSchema() *jsonschema.Schema {
	properties := jsonschema.NewProperties()
	properties.Set("text", &jsonschema.Schema{Type: "string"})

	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "object", Properties: properties, Required: []string{"text"}},
		},
	}
}

// LineRecord is the JSON payload of a single line frame.
type LineRecord struct {
	Type    string    `json:"type" jsonschema:"enum=status,enum=token,enum=delta,enum=media,enum=done,enum=error"`
	Content TextValue `json:"content,omitempty"`
}

// EventData is the JSON payload carried in the data lines of a named event
// stream block.
type EventData struct {
	V TextValue `json:"v,omitempty"`
}
