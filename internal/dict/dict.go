package dict

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Load reads an AFL-style dictionary file
func Load(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dict file: %w", err)
	}
	defer f.Close()

	words, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dict file %s: %w", path, err)
	}
	return words, nil
}

// Parse accepts one entry per line, either `name="value"` or `"value"`.
// Blank lines and lines starting with # are skipped. Values may use \\, \" and \xNN escapes.
// Duplicate words are dropped, keeping the first occurrence.
func Parse(r io.Reader) ([][]byte, error) {
	var words [][]byte
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		word, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if len(word) == 0 {
			continue
		}
		if _, ok := seen[string(word)]; ok {
			continue
		}
		seen[string(word)] = struct{}{}
		words = append(words, word)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return words, nil
}

func parseLine(line string) ([]byte, error) {
	start := strings.IndexByte(line, '"')
	end := strings.LastIndexByte(line, '"')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("missing quoted value in %q", line)
	}
	if name := strings.TrimSpace(line[:start]); name != "" && !strings.HasSuffix(name, "=") {
		return nil, fmt.Errorf("malformed entry %q", line)
	}
	return unescape(line[start+1 : end])
}

func unescape(s string) ([]byte, error) {
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			buf.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return nil, fmt.Errorf("dangling escape in %q", s)
		}
		i++
		switch s[i] {
		case '\\', '"':
			buf.WriteByte(s[i])
		case 'x':
			if i+2 >= len(s) {
				return nil, fmt.Errorf("short hex escape in %q", s)
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("bad hex escape in %q: %w", s, err)
			}
			buf.WriteByte(byte(v))
			i += 2
		default:
			return nil, fmt.Errorf("unknown escape \\%c in %q", s[i], s)
		}
	}
	return buf.Bytes(), nil
}
