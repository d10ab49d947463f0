// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package canonical

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

var ErrInvalidFrontMatter = errors.New("invalid front matter block")

const frontMatterFence = "---"

// Markdown canonicalizes a Markdown document with an optional YAML front
// matter header: line endings normalized to \n, trailing whitespace stripped
// per line, front matter keys sorted, exactly one trailing newline.
func Markdown(content []byte) ([]byte, error) {
	if !utf8.Valid(content) {
		return nil, errors.New("content is not valid UTF-8")
	}

	lines := normalizeLines(content)

	var out strings.Builder
	body := lines

	if len(lines) > 0 && lines[0] == frontMatterFence {
		end := -1
		for i := 1; i < len(lines); i++ {
			if lines[i] == frontMatterFence {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated header", ErrInvalidFrontMatter)
		}
		header, err := canonicalFrontMatter(strings.Join(lines[1:end], "\n"))
		if err != nil {
			return nil, err
		}
		out.WriteString(frontMatterFence)
		out.WriteByte('\n')
		out.WriteString(header)
		out.WriteString(frontMatterFence)
		out.WriteByte('\n')
		body = lines[end+1:]
	}

	text := strings.Join(body, "\n")
	text = strings.Trim(text, "\n")
	out.WriteString(text)
	if !strings.HasSuffix(out.String(), "\n") {
		out.WriteByte('\n')
	}
	return []byte(out.String()), nil
}

// FrontMatter parses the YAML header of a Markdown document, returning nil
// when the document carries no header. Callers use it for key inspection and
// schema checks; canonicalization goes through Markdown.
func FrontMatter(content []byte) (map[string]any, error) {
	lines := normalizeLines(content)
	if len(lines) == 0 || lines[0] != frontMatterFence {
		return nil, nil
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if lines[i] == frontMatterFence {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated header", ErrInvalidFrontMatter)
	}
	meta := map[string]any{}
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &meta); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFrontMatter, err)
	}
	return meta, nil
}

// SplitFrontMatter separates a Markdown document into its parsed YAML header
// (nil when absent) and body text.
func SplitFrontMatter(content []byte) (map[string]any, string, error) {
	lines := normalizeLines(content)
	if len(lines) == 0 || lines[0] != frontMatterFence {
		return nil, strings.Join(lines, "\n"), nil
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if lines[i] == frontMatterFence {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, "", fmt.Errorf("%w: unterminated header", ErrInvalidFrontMatter)
	}
	meta := map[string]any{}
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &meta); err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidFrontMatter, err)
	}
	return meta, strings.Join(lines[end+1:], "\n"), nil
}

// AssembleMarkdown rebuilds a canonical Markdown document from a front matter
// map and body text. The inverse of SplitFrontMatter up to canonicalization.
func AssembleMarkdown(meta map[string]any, body string) ([]byte, error) {
	var out strings.Builder
	if len(meta) > 0 {
		header, err := yaml.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFrontMatter, err)
		}
		out.WriteString(frontMatterFence)
		out.WriteByte('\n')
		out.Write(header)
		out.WriteString(frontMatterFence)
		out.WriteByte('\n')
	}
	out.WriteString(body)
	return Markdown([]byte(out.String()))
}

// canonicalFrontMatter re-emits the key/value header with sorted keys.
// yaml.v3 marshals maps in sorted key order, which makes the round trip
// deterministic and idempotent for plain scalar headers.
func canonicalFrontMatter(raw string) (string, error) {
	meta := map[string]any{}
	if err := yaml.Unmarshal([]byte(raw), &meta); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidFrontMatter, err)
	}
	if len(meta) == 0 {
		return "", nil
	}
	b, err := yaml.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidFrontMatter, err)
	}
	return string(b), nil
}
