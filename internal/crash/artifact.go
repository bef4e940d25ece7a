package crash

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
)

// the description line keeps backslashes and newlines escaped so it never spans lines
var (
	descEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	descUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n")
)

// encodeArtifact lays out an artifact as the raw input, a newline and the escaped description
func encodeArtifact(input []byte, description string) []byte {
	desc := descEscaper.Replace(description)
	var buf bytes.Buffer
	buf.Grow(len(input) + 1 + len(desc))
	buf.Write(input)
	buf.WriteByte('\n')
	buf.WriteString(desc)
	return buf.Bytes()
}

// ReadArtifact splits a crash file written by Save back into input and description.
// The description is everything after the last newline.
func ReadArtifact(path string) ([]byte, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read crash file: %w", err)
	}
	idx := bytes.LastIndexByte(content, '\n')
	if idx < 0 {
		return nil, "", errors.New("crash file has no description line")
	}
	return content[:idx], descUnescaper.Replace(string(content[idx+1:])), nil
}
