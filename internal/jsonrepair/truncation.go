package jsonrepair

import "strings"

// Truncation is the verdict of Detect on a raw model response.
type Truncation struct {
	Truncated        bool `json:"truncated"`
	ProviderSignaled bool `json:"provider_signaled"`
	// Depth is the brace/bracket depth at end of text. It is zero whenever
	// Truncated is false.
	Depth int `json:"depth"`
	// Unbalanced reports a stray or mismatched closer.
	Unbalanced bool `json:"unbalanced,omitempty"`
	// LastCompleteOffset is the length of the longest prefix that ends on a
	// complete node: the root object itself when it closed, otherwise its last
	// complete child. Zero means no usable prefix.
	LastCompleteOffset int `json:"last_complete_offset"`
	// RootClosed reports that some root value closed. Text after it is not a
	// cut-off continuation of that root.
	RootClosed bool `json:"root_closed,omitempty"`
}

// Detect decides whether raw is incomplete. A response is truncated when the
// provider flagged it, when it does not end with a closing brace, or when its
// braces and brackets do not balance.
func Detect(raw string, providerTruncated bool) Truncation {
	st := scan(raw)

	t := Truncation{
		ProviderSignaled: providerTruncated,
		Depth:            st.depth,
		Unbalanced:       st.stray,
	}

	trimmed := strings.TrimSpace(raw)
	t.Truncated = providerTruncated ||
		!strings.HasSuffix(trimmed, "}") ||
		st.depth != 0 || st.stray || st.inString

	if t.Truncated {
		t.RootClosed = st.lastRootClose > 0
		t.LastCompleteOffset = st.lastRootClose
		if t.LastCompleteOffset == 0 {
			t.LastCompleteOffset = st.lastChildClose
		}
	}
	return t
}

// Prefix returns raw cut at the last complete offset with trailing
// whitespace and a trailing comma removed. It returns "" when there is no
// usable prefix.
func (t Truncation) Prefix(raw string) string {
	if t.LastCompleteOffset <= 0 || t.LastCompleteOffset > len(raw) {
		return ""
	}
	p := strings.TrimRight(raw[:t.LastCompleteOffset], " \t\r\n")
	p = strings.TrimSuffix(p, ",")
	return strings.TrimRight(p, " \t\r\n")
}

// Close appends the closing tokens needed to balance s: a quote if s ends
// inside a string, then brackets and braces innermost first. The result
// always starts with s. Stray closers already in s are left untouched.
func Close(s string) string {
	return s + scan(s).closers()
}

// CountMarkers reports how many of markers occur verbatim in raw.
func CountMarkers(raw string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(raw, m) {
			n++
		}
	}
	return n
}
