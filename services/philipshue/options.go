package philipshue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// optionsSchema describes the options of a Philips Hue descriptor
const optionsSchema = `{
	"type": "object",
	"properties": {
		"lights": {
			"type": "array",
			"items": {"type": "string", "minLength": 1},
			"uniqueItems": true
		}
	},
	"additionalProperties": false
}`

// Options of a Philips Hue descriptor. An empty Lights list means every light.
type Options struct {
	Lights []string `json:"lights,omitempty"`
}

var compileOptionsSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(optionsSchema)))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("philips-hue-options.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}
	return c.Compile("philips-hue-options.json")
})

// ParseOptions validates raw against the options schema and decodes it
func ParseOptions(raw json.RawMessage) (Options, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	schema, err := compileOptionsSchema()
	if err != nil {
		return Options{}, fmt.Errorf("failed to compile options schema: %w", err)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Options{}, fmt.Errorf("invalid options: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return Options{}, err
	}

	var options Options
	if err := json.Unmarshal(raw, &options); err != nil {
		return Options{}, err
	}
	return options, nil
}
