// Package schema defines the target CV record shape and validates parsed
// model output against it.
package schema

import (
	_ "embed"
)

//go:embed cv_template.txt
var cvTemplate string

// Kind is the expected JSON type of a field.
type Kind string

const (
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindString Kind = "string"
)

// Field is a named field with its expected kind.
type Field struct {
	Name string
	Kind Kind
}

// Spec is the fixed record shape the pipeline must produce.
type Spec struct {
	Name string
	// Root is the identity section key.
	Root string
	// Identity lists the mandatory identity fields inside Root.
	Identity []string
	// TopLevel lists every top-level field with its expected kind, Root included.
	TopLevel []Field
	// Personal lists the fields expected inside Root.
	Personal []Field
	// Template is embedded verbatim into prompts.
	Template string
}

// CV returns the curriculum vitae record spec.
func CV() Spec {
	return Spec{
		Name:     "cv",
		Root:     "personal_information",
		Identity: []string{"first_name", "last_name"},
		TopLevel: []Field{
			{"personal_information", KindObject},
			{"professional_summary", KindString},
			{"work_experience", KindArray},
			{"it_system_used", KindArray},
			{"education", KindArray},
			{"skills", KindObject},
			{"certifications", KindArray},
			{"projects", KindArray},
			{"awards_and_honors", KindArray},
			{"volunteer_experience", KindArray},
			{"interests", KindArray},
			{"references", KindArray},
			{"additional_information", KindString},
		},
		Personal: []Field{
			{"first_name", KindString},
			{"middle_name", KindString},
			{"last_name", KindString},
			{"emails", KindArray},
			{"birth_date", KindString},
			{"gender", KindString},
			{"civil_status", KindString},
			{"alias", KindArray},
			{"phones", KindArray},
			{"address", KindObject},
			{"desired_location", KindObject},
			{"work_preference", KindObject},
			{"social_urls", KindArray},
		},
		Template: cvTemplate,
	}
}

// Markers returns the quoted keys whose presence in a raw response suggests
// the model produced the right structure: the root key and each identity
// field.
func (s Spec) Markers() []string {
	out := make([]string, 0, len(s.Identity)+1)
	out = append(out, `"`+s.Root+`"`)
	for _, f := range s.Identity {
		out = append(out, `"`+f+`"`)
	}
	return out
}
