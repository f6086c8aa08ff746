package dct

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://dctledger.local/schemas/dct-v0.1.json"

const schemaDocument = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "nonBlank": {"type": "string", "pattern": "\\S"},
    "ideaId": {"type": "string", "pattern": "\\S", "maxLength": 160},
    "ideaType": {"enum": ["decision", "definition", "goal", "plan", "rule", "observation"]},
    "status": {"enum": ["active", "superseded", "deprecated", "draft", "promoted"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "tags": {"type": "array", "items": {"type": "string"}},
    "range": {
      "type": "object",
      "required": ["start", "end"],
      "properties": {"start": {"type": "number"}, "end": {"type": "number"}}
    },
    "anchor": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["chat", "file", "url"]},
        "chatId": {"type": "number"},
        "chatExternalId": {"type": "string"},
        "lineNumber": {"type": "number"},
        "lineRange": {"$ref": "#/$defs/range"},
        "filePath": {"type": "string"},
        "fileLineRange": {"$ref": "#/$defs/range"},
        "url": {"type": "string"},
        "urlHash": {"type": "string"}
      }
    },
    "ideaCreate": {
      "type": "object",
      "required": ["ideaId", "text"],
      "properties": {
        "type": {"type": "string"},
        "ideaId": {"$ref": "#/$defs/ideaId"},
        "text": {"$ref": "#/$defs/nonBlank"},
        "ideaType": {"$ref": "#/$defs/ideaType"},
        "status": {"$ref": "#/$defs/status"},
        "confidence": {"$ref": "#/$defs/confidence"},
        "tags": {"$ref": "#/$defs/tags"},
        "anchor": {"$ref": "#/$defs/anchor"},
        "nhId": {"type": "string"}
      }
    },
    "ideaRevise": {
      "type": "object",
      "required": ["ideaId"],
      "anyOf": [
        {"required": ["text"]},
        {"required": ["ideaType"]},
        {"required": ["confidence"]},
        {"required": ["tags"]},
        {"required": ["anchor"]}
      ],
      "properties": {
        "type": {"type": "string"},
        "ideaId": {"$ref": "#/$defs/ideaId"},
        "text": {"$ref": "#/$defs/nonBlank"},
        "ideaType": {"$ref": "#/$defs/ideaType"},
        "confidence": {"$ref": "#/$defs/confidence"},
        "tags": {"$ref": "#/$defs/tags"},
        "anchor": {"$ref": "#/$defs/anchor"}
      }
    },
    "ideaStatus": {
      "type": "object",
      "required": ["ideaId", "status"],
      "properties": {
        "type": {"type": "string"},
        "ideaId": {"$ref": "#/$defs/ideaId"},
        "status": {"$ref": "#/$defs/status"},
        "anchor": {"$ref": "#/$defs/anchor"}
      }
    },
    "ideaEdge": {
      "type": "object",
      "required": ["from", "to", "relation"],
      "properties": {
        "type": {"type": "string"},
        "from": {"$ref": "#/$defs/ideaId"},
        "to": {"$ref": "#/$defs/ideaId"},
        "relation": {"enum": ["SUPPORTS", "CONTRADICTS", "DEPENDS_ON", "DEFINES", "IMPLEMENTS"]},
        "confidence": {"$ref": "#/$defs/confidence"},
        "anchor": {"$ref": "#/$defs/anchor"}
      }
    },
    "slotBind": {
      "type": "object",
      "required": ["slot", "ideaId"],
      "properties": {
        "type": {"type": "string"},
        "slot": {"$ref": "#/$defs/nonBlank"},
        "ideaId": {"$ref": "#/$defs/ideaId"},
        "anchor": {"$ref": "#/$defs/anchor"}
      }
    }
  }
}`

var schemaDefs = map[Kind]string{
	KindIdeaCreate: "ideaCreate",
	KindIdeaRevise: "ideaRevise",
	KindIdeaStatus: "ideaStatus",
	KindIdeaEdge:   "ideaEdge",
	KindSlotBind:   "slotBind",
}

var schemas = mustCompileSchemas()

func mustCompileSchemas() map[Kind]*jsonschema.Schema {
	compiled, err := compileSchemas()
	if err != nil {
		panic(err)
	}
	return compiled
}

func compileSchemas() (map[Kind]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(schemaDocument)); err != nil {
		return nil, fmt.Errorf("load dct schema: %w", err)
	}
	out := make(map[Kind]*jsonschema.Schema, len(schemaDefs))
	for kind, def := range schemaDefs {
		schema, err := c.Compile(schemaURL + "#/$defs/" + def)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		out[kind] = schema
	}
	return out, nil
}

// schemaProblems flattens a validation failure into leaf messages such as
// "/anchor/type: value must be one of ...".
func schemaProblems(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "/"
			}
			out = append(out, location+": "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}
