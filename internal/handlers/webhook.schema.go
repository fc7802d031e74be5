package handlers

import (
	"bytes"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const webhookSchemaURL = "https://schemas.visit-reminders.local/whatsapp-webhook.json"

// webhookSchema covers the envelope only. Events are checked one by one during
// ingestion, so a single malformed event never costs the rest of a delivery.
const webhookSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["object", "entry"],
  "properties": {
    "object": {"type": "string"},
    "entry": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["changes"],
        "properties": {
          "id": {"type": "string"},
          "changes": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["value"],
              "properties": {
                "field": {"type": "string"},
                "value": {
                  "type": "object",
                  "properties": {
                    "messages": {"type": "array", "items": {"type": "object"}},
                    "statuses": {"type": "array", "items": {"type": "object"}}
                  }
                }
              }
            }
          }
        }
      }
    }
  }
}`

type envelopeValidator struct {
	schema *jsonschema.Schema
}

func newEnvelopeValidator() (*envelopeValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(webhookSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(webhookSchemaURL, doc); err != nil {
		return nil, err
	}
	sch, err := c.Compile(webhookSchemaURL)
	if err != nil {
		return nil, err
	}
	return &envelopeValidator{schema: sch}, nil
}

func (v *envelopeValidator) Validate(body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return err
	}
	return v.schema.Validate(inst)
}
