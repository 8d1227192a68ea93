package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/xraph/bridge"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// schemaBase is the fixed URL schemas are registered under, so messages
// never carry a server path.
const schemaBase = "https://bridge.xraph.dev/schemas/"

const (
	schemaCreateRequest = "create_request.json"
	schemaFailRequest   = "fail_request.json"
	schemaResolve       = "resolve_reconcile.json"
)

var bodySchemas = map[string]string{
	schemaCreateRequest: `{
		"type": "object",
		"required": ["year", "type"],
		"properties": {
			"year": {"type": ["string", "integer"], "minLength": 1, "maxLength": 256},
			"type": {"type": "string", "minLength": 1, "maxLength": 256}
		},
		"additionalProperties": false
	}`,
	schemaFailRequest: `{
		"type": "object",
		"required": ["reason"],
		"properties": {
			"reason": {"type": "string", "minLength": 1, "maxLength": 2048}
		},
		"additionalProperties": false
	}`,
	schemaResolve: `{
		"type": "object",
		"properties": {
			"apply": {"type": "boolean"}
		},
		"additionalProperties": false
	}`,
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	for name, src := range bodySchemas {
		if err := compiler.AddResource(schemaBase+name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("api: add schema %s: %w", name, err)
		}
	}
	out := make(map[string]*jsonschema.Schema, len(bodySchemas))
	for name := range bodySchemas {
		s, err := compiler.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("api: compile schema %s: %w", name, err)
		}
		out[name] = s
	}
	return out, nil
}

// decodeBody validates the JSON body against the named schema and decodes
// it into dst. An empty body is validated as {}.
func (a *API) decodeBody(w http.ResponseWriter, r *http.Request, schema string, dst any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body exceeds %d bytes", bridge.ErrInvalidRequest, maxBodyBytes)
		}
		return fmt.Errorf("%w: read body: %w", bridge.ErrInvalidRequest, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		data = []byte("{}")
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: malformed JSON: %w", bridge.ErrInvalidRequest, err)
	}
	if err := a.schemas[schema].Validate(doc); err != nil {
		return fmt.Errorf("%w: %s", bridge.ErrInvalidRequest, describe(err))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %w", bridge.ErrInvalidRequest, err)
	}
	return nil
}

// describe flattens a validation error into "location: message" pairs.
func describe(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var parts []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(parts, "; ")
}
