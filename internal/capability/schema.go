package capability

import (
	"bytes"
	"encoding/json"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaResource = "https://schemas.solagent.local/parameters.json"

var reflector = &jsonschema.Reflector{
	ExpandedStruct:            true,
	DoNotReference:            true,
	Anonymous:                 true,
	AllowAdditionalProperties: true,
}

// SchemaFor reflects a parameter struct into an inline JSON schema object.
// Fields without omitempty are required; jsonschema tags add descriptions.
func SchemaFor(v any) json.RawMessage {
	s := reflector.Reflect(v)
	s.Version = ""
	s.ID = ""
	encoded, err := json.Marshal(s)
	if err != nil {
		panic("capability: reflect schema: " + err.Error())
	}
	return encoded
}

// EmptySchema accepts an object with no declared properties.
func EmptySchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func compileSchema(raw json.RawMessage) (*jsonschemav5.Schema, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	compiler := jsonschemav5.NewCompiler()
	compiler.Draft = jsonschemav5.Draft2020
	if err := compiler.AddResource(schemaResource, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaResource)
}
