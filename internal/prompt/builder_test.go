package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cv-extract/internal/schema"
)

func TestBuild(t *testing.T) {
	spec := schema.CV()
	req := Build("resume-42.txt", "Ana Cruz\nSoftware Engineer", spec)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, "resume-42.txt", req.DocumentID)
	assert.Equal(t, RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "personal_information")

	user := req.Messages[1]
	assert.Equal(t, RoleUser, user.Role)
	assert.Contains(t, user.Content, "Document: resume-42.txt")
	assert.Contains(t, user.Content, "Ana Cruz\nSoftware Engineer")
	assert.Contains(t, user.Content, spec.Template)
	assert.Contains(t, user.Content, `REQUIRED fields: "first_name" and "last_name" in personal_information section`)
	assert.NotContains(t, user.Content, "This is a long CV document")
}

func TestBuild_LongDocument(t *testing.T) {
	text := strings.Repeat("x", LongDocumentChars+1)
	req := Build("long.txt", text, schema.CV())

	user := req.Messages[1].Content
	assert.Contains(t, user, "This is a long CV document")
	assert.Contains(t, user, "Text Length: 20001 characters")
	assert.Contains(t, user, text)
}

func TestBuild_Pure(t *testing.T) {
	a := Build("d", "text", schema.CV())
	b := Build("d", "text", schema.CV())
	assert.Equal(t, a, b)
}

func TestBuildContinuation(t *testing.T) {
	prefix := `{"personal_information": {"first_name": "Ana", "last_name": "Cruz"}`
	req := BuildContinuation("d1", prefix)

	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Content, "Continue the JSON response")
	assert.Contains(t, req.Messages[1].Content, prefix)
	assert.Contains(t, req.Messages[1].Content, "Do NOT re-open the root object")
}

func TestRequest_Text(t *testing.T) {
	req := Request{Messages: []Message{{Content: "ab"}, {Content: "cd"}}}
	assert.Equal(t, "abcd", req.Text())
}
