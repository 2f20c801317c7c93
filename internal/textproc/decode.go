// Package textproc decodes extracted CV text files and segments them into
// classified lines.
package textproc

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// FallbackCharset is used when input without a declared charset is not
// valid UTF-8.
const FallbackCharset = "windows-1252"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode reads r and returns its text as UTF-8. An empty charset means
// UTF-8, falling back to FallbackCharset for invalid input.
func Decode(r io.Reader, charset string) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", eris.Wrap(err, "textproc: read input")
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)

	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		if utf8.Valid(raw) {
			return string(raw), nil
		}
		if charset != "" {
			return "", eris.New("textproc: input is not valid utf-8")
		}
		charset = FallbackCharset
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", eris.Wrapf(err, "textproc: unsupported charset %q", charset)
	}
	out, err := io.ReadAll(enc.NewDecoder().Reader(bytes.NewReader(raw)))
	if err != nil {
		return "", eris.Wrapf(err, "textproc: decode %s", charset)
	}
	return string(out), nil
}

// ReadFile decodes the file at path. A path made by ArchiveSource is read
// from the archive unless a plain file of that name exists.
func ReadFile(path, charset string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		if zipPath, entry, ok := SplitArchiveSource(path); ok {
			return readArchiveEntry(zipPath, entry, charset)
		}
	}
	if err != nil {
		return "", eris.Wrap(err, "textproc: open file")
	}
	defer f.Close() //nolint:errcheck
	return Decode(f, charset)
}

// Normalize unifies line endings, collapses runs of spaces within lines and
// drops lines of two characters or fewer.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if utf8.RuneCountInString(line) > 2 {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
