package attachment

import (
	"regexp"
	"strings"
)

const (
	openPrefix = "[Attached File: "
	closeTag   = "[End Attachment]"
)

// blockPattern matches one embedded attachment. The body is matched lazily so
// consecutive blocks are never merged into one.
var blockPattern = regexp.MustCompile(`\[Attached File: (.*?)\]\n((?s:.*?))\n\[End Attachment\]`)

// File is a named piece of text attached to a user message.
type File struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Decoded is the result of splitting a message body into display text and files.
type Decoded struct {
	CleanText   string
	Attachments []File
}

// Encode appends every file to text using the sentinel block format.
// Filenames and contents are written verbatim; a content containing the
// closing sentinel will not survive a round trip.
func Encode(text string, files []File) string {
	if len(files) == 0 {
		return text
	}

	var b strings.Builder
	b.WriteString(text)
	for _, f := range files {
		b.WriteString("\n\n")
		b.WriteString(openPrefix)
		b.WriteString(f.Filename)
		b.WriteString("]\n")
		b.WriteString(f.Content)
		b.WriteString("\n")
		b.WriteString(closeTag)
	}
	return b.String()
}

// Decode extracts the embedded files from raw in order of appearance.
// When raw carries no blocks it is returned untouched.
func Decode(raw string) Decoded {
	matches := blockPattern.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return Decoded{CleanText: raw}
	}

	files := make([]File, 0, len(matches))
	var rest strings.Builder
	last := 0
	for _, m := range matches {
		files = append(files, File{
			Filename: raw[m[2]:m[3]],
			Content:  strings.TrimSpace(raw[m[4]:m[5]]),
		})
		rest.WriteString(raw[last:m[0]])
		last = m[1]
	}
	rest.WriteString(raw[last:])

	return Decoded{
		CleanText:   strings.TrimSpace(rest.String()),
		Attachments: files,
	}
}
