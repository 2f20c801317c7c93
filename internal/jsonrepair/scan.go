// Package jsonrepair detects truncated model output and repairs malformed JSON.
package jsonrepair

// scanState summarizes a left-to-right walk over brace and bracket tokens.
// Tokens inside double-quoted strings are ignored.
type scanState struct {
	depth    int    // opens minus closes
	stray    bool   // a closer appeared with nothing open, or closed the wrong kind
	open     []byte // unclosed openers, outermost first
	commas   []int  // per unclosed opener, offset of its last member comma
	inString bool

	// lastRootClose is the offset just past the last closer that returned
	// depth to zero.
	lastRootClose int
	// lastChildClose is the offset just past the last closer that returned
	// depth to one inside an object root.
	lastChildClose int
}

func scan(s string) scanState {
	var st scanState
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if st.inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				st.inString = false
			}
			continue
		}

		switch c {
		case '"':
			st.inString = true
		case '{', '[':
			st.depth++
			st.open = append(st.open, c)
			st.commas = append(st.commas, 0)
		case ',':
			if n := len(st.commas); n > 0 {
				st.commas[n-1] = i
			}
		case '}', ']':
			st.depth--
			if len(st.open) == 0 {
				st.stray = true
				continue
			}
			top := st.open[len(st.open)-1]
			st.open = st.open[:len(st.open)-1]
			st.commas = st.commas[:len(st.commas)-1]
			if (c == '}' && top != '{') || (c == ']' && top != '[') {
				st.stray = true
			}
			switch {
			case st.depth == 0:
				st.lastRootClose = i + 1
			case st.depth == 1 && len(st.open) == 1 && st.open[0] == '{':
				st.lastChildClose = i + 1
			}
		}
	}
	return st
}

// commaCuts returns the offsets of the last member comma of each unclosed
// container, innermost first. Cutting there drops only the member that was
// being written.
func (st scanState) commaCuts() []int {
	var cuts []int
	for i := len(st.commas) - 1; i >= 0; i-- {
		if st.commas[i] > 0 {
			cuts = append(cuts, st.commas[i])
		}
	}
	return cuts
}

// closers returns the tokens that close every unclosed opener, innermost first.
func (st scanState) closers() string {
	out := make([]byte, 0, len(st.open)+1)
	if st.inString {
		out = append(out, '"')
	}
	for i := len(st.open) - 1; i >= 0; i-- {
		if st.open[i] == '{' {
			out = append(out, '}')
		} else {
			out = append(out, ']')
		}
	}
	return string(out)
}

// stringEnd returns the offset just past the string literal whose opening
// quote is at s[open], or len(s) if it never closes.
func stringEnd(s string, open int) int {
	escaped := false
	for i := open + 1; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '"':
			return i + 1
		}
	}
	return len(s)
}

// matchingBrace returns the index of the brace closing the one at start,
// or -1 if it never closes.
func matchingBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
