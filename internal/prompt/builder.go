// Package prompt renders extraction and continuation requests.
package prompt

import (
	"fmt"
	"strings"

	"github.com/sells-group/cv-extract/internal/schema"
)

// Role names used in request messages.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// LongDocumentChars is the text length above which the long-document
// instructions are used.
const LongDocumentChars = 20000

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a rendered completion request.
type Request struct {
	DocumentID string    `json:"document_id"`
	Messages   []Message `json:"messages"`
}

// Text returns the concatenated message contents, used for token estimates.
func (r Request) Text() string {
	var b strings.Builder
	for _, m := range r.Messages {
		b.WriteString(m.Content)
	}
	return b.String()
}

const systemInstruction = `You are a CV parsing assistant. Output CV data in the EXACT JSON format specified. Include 'first_name' and 'last_name' in %s. Respond with valid JSON only, no markdown and no explanations.`

const extractPrompt = `Please analyze the following CV document and extract detailed information into a structured JSON format.

Document: %s

CV Content:
%s

IMPORTANT: You MUST output the CV data in EXACTLY this JSON format. Do not modify the structure or field names.

%s
%s`

const longExtractPrompt = `Please analyze the following CV document and extract detailed information into a structured JSON format.
This is a long CV document - focus on extracting ALL available information while maintaining accuracy.

Document: %s
Text Length: %d characters

CV Content:
%s

IMPORTANT: You MUST output the CV data in EXACTLY this JSON format. Do not modify the structure or field names.
Since this is a long document, ensure you capture ALL sections and details present.

%s
%s`

const requirements = `
CRITICAL REQUIREMENTS:
1. The output MUST follow this EXACT JSON structure - do not change field names or structure
2. REQUIRED fields: %s in %s section
3. Extract ALL information possible from the CV content
4. If a field is not available in the CV, use null or empty string as appropriate
5. Ensure the response is valid JSON format
6. Do not include any explanations or text outside the JSON structure
7. Use arrays for multiple items (e.g., multiple skills, experiences)
8. For dates, use YYYY-MM format for months, YYYY-MM-DD for specific dates
9. For boolean values, use true/false
10. If the CV content is unclear or incomplete, make reasonable inferences based on context
11. The "end_date" can be "Present" for ongoing positions/education
12. IMPORTANT: Your response MUST be ONLY the JSON object - no markdown, no explanations, no additional text
13. CRITICAL: Ensure ALL object keys are properly quoted with double quotes (e.g., "name": not name:)
14. Pay special attention to nested objects in arrays like references, work_experience, etc.
15. BE CONCISE: Use brief, relevant descriptions. Avoid verbose explanations.
16. PRIORITIZE: Focus on the most important information if space is limited.
17. Work experience should be in reverse chronological order.

Please provide ONLY the JSON response without any additional text, markdown formatting, or explanations.`

// Build renders the extraction request for one document. The whole text is
// sent in a single request.
func Build(documentID, text string, spec schema.Spec) Request {
	req := requirementsFor(spec)

	var user string
	if len(text) > LongDocumentChars {
		user = fmt.Sprintf(longExtractPrompt, documentID, len(text), text, spec.Template, req)
	} else {
		user = fmt.Sprintf(extractPrompt, documentID, text, spec.Template, req)
	}

	return Request{
		DocumentID: documentID,
		Messages: []Message{
			{Role: RoleSystem, Content: fmt.Sprintf(systemInstruction, spec.Root)},
			{Role: RoleUser, Content: user},
		},
	}
}

func requirementsFor(spec schema.Spec) string {
	quoted := make([]string, len(spec.Identity))
	for i, f := range spec.Identity {
		quoted[i] = `"` + f + `"`
	}
	return fmt.Sprintf(requirements, strings.Join(quoted, " and "), spec.Root)
}

const continuationSystem = `You are a CV parsing assistant. Continue the JSON response from where it was truncated. Do not repeat content, just continue the structure.`

const continuationPrompt = `Your previous response was truncated. Please continue from where you left off.

Previous response (truncated):
%s

IMPORTANT:
1. Continue the JSON structure from where it was cut off
2. Do NOT repeat any content from the previous response
3. Do NOT add opening braces or brackets - continue from where the previous response ended
4. Do NOT re-open the root object
5. Ensure the final result is valid JSON when combined with the previous response
6. Include the closing brace } at the end

Continue the JSON response:`

// BuildContinuation renders the request asking a model to resume after
// prefix, the last complete part of its truncated response.
func BuildContinuation(documentID, prefix string) Request {
	return Request{
		DocumentID: documentID,
		Messages: []Message{
			{Role: RoleSystem, Content: continuationSystem},
			{Role: RoleUser, Content: fmt.Sprintf(continuationPrompt, prefix)},
		},
	}
}
