package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrRequiredField marks a candidate missing mandatory identity data.
var ErrRequiredField = eris.New("schema: required field missing")

// RequiredFieldError names the mandatory data a candidate lacks.
type RequiredFieldError struct {
	Field  string
	Reason string
}

func (e *RequiredFieldError) Error() string { return e.Reason }

// Unwrap lets errors.Is match ErrRequiredField.
func (e *RequiredFieldError) Unwrap() error { return ErrRequiredField }

// Validator checks parsed candidates against a Spec. It is safe for
// concurrent use.
type Validator struct {
	spec     Spec
	required *jsonschema.Schema
}

// NewValidator compiles the hard requirements of spec.
func NewValidator(spec Spec) (*Validator, error) {
	doc, err := json.Marshal(requiredDocument(spec))
	if err != nil {
		return nil, eris.Wrap(err, "schema: marshal required schema")
	}

	url := spec.Name + ".required.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, eris.Wrap(err, "schema: add required schema")
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, eris.Wrap(err, "schema: compile required schema")
	}
	return &Validator{spec: spec, required: compiled}, nil
}

// requiredDocument renders the hard requirement as a JSON Schema: an object
// root holding the identity section, whose identity fields are strings with
// at least one non-space character.
func requiredDocument(spec Spec) map[string]any {
	identity := make(map[string]any, len(spec.Identity))
	for _, f := range spec.Identity {
		identity[f] = map[string]any{"type": "string", "pattern": `\S`}
	}
	return map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": []string{spec.Root},
		"properties": map[string]any{
			spec.Root: map[string]any{
				"type":       "object",
				"required":   spec.Identity,
				"properties": identity,
			},
		},
	}
}

// Validate checks candidate. A missing or blank identity field returns a
// *RequiredFieldError; every other mismatch becomes a warning.
func (v *Validator) Validate(candidate any) ([]string, error) {
	if err := v.required.Validate(candidate); err != nil {
		return nil, v.requiredFailure(candidate, err)
	}

	root := candidate.(map[string]any)
	var warnings []string

	for _, f := range v.spec.TopLevel {
		val, ok := root[f.Name]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("missing optional field '%s'", f.Name))
			continue
		}
		if !matches(val, f.Kind) {
			warnings = append(warnings, fmt.Sprintf("field '%s' should be %s, got %s", f.Name, f.Kind, kindOf(val)))
		}
	}

	personal := root[v.spec.Root].(map[string]any)
	for _, f := range v.spec.Personal {
		val, ok := personal[f.Name]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("missing optional %s field '%s'", v.spec.Root, f.Name))
			continue
		}
		if !matches(val, f.Kind) {
			warnings = append(warnings, fmt.Sprintf("%s.%s should be %s, got %s", v.spec.Root, f.Name, f.Kind, kindOf(val)))
		}
	}

	if refs, ok := root["references"].([]any); ok {
		for i, ref := range refs {
			obj, ok := ref.(map[string]any)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("reference %d should be object, got %s", i, kindOf(ref)))
				continue
			}
			for _, key := range []string{"name", "relationship"} {
				if _, ok := obj[key]; !ok {
					warnings = append(warnings, fmt.Sprintf("reference %d missing '%s'", i, key))
				}
			}
		}
	}

	return warnings, nil
}

// requiredFailure names the first hard requirement candidate violates.
func (v *Validator) requiredFailure(candidate any, cause error) *RequiredFieldError {
	root, ok := candidate.(map[string]any)
	if !ok {
		return &RequiredFieldError{Reason: fmt.Sprintf("record should be object, got %s", kindOf(candidate))}
	}
	section, ok := root[v.spec.Root]
	if !ok {
		return &RequiredFieldError{Field: v.spec.Root, Reason: fmt.Sprintf("missing required section '%s'", v.spec.Root)}
	}
	personal, ok := section.(map[string]any)
	if !ok {
		return &RequiredFieldError{
			Field:  v.spec.Root,
			Reason: fmt.Sprintf("section '%s' should be object, got %s", v.spec.Root, kindOf(section)),
		}
	}
	for _, f := range v.spec.Identity {
		s, ok := personal[f].(string)
		if !ok || strings.TrimSpace(s) == "" {
			return &RequiredFieldError{
				Field:  v.spec.Root + "." + f,
				Reason: fmt.Sprintf("missing required field '%s' in %s", f, v.spec.Root),
			}
		}
	}
	return &RequiredFieldError{Reason: cause.Error()}
}

// matches treats null as acceptable for every kind; the prompt asks models
// to emit null for unknown values.
func matches(val any, k Kind) bool {
	if val == nil {
		return true
	}
	return kindOf(val) == string(k)
}

func kindOf(val any) string {
	switch val.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", val)
	}
}
