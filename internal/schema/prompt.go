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

package schema

import (
	"fmt"
	"strings"

	"github.com/cardinalhq/confighub/internal/canonical"
)

const TypePrompt = "prompt"

// PromptConfig is a Markdown document with a key/value front matter header.
// The prompt body semantics belong to the research pipeline; this store only
// guarantees structure and header hygiene.
type PromptConfig struct {
	Title    string            `json:"title" validate:"required"`
	Audience string            `json:"audience,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
	Body     string            `json:"body" validate:"required"`
}

func promptSchema() *Schema {
	return &Schema{
		ConfigType:    TypePrompt,
		SchemaVersion: 1,
		Kind:          KindMarkdown,
		Defaults: func() any {
			return &PromptConfig{
				Title: "default",
				Body:  "You are a careful research assistant. Answer only from the supplied evidence.\n",
			}
		},
		DefaultDoc:  "---\ntitle: default\n---\nYou are a careful research assistant. Answer only from the supplied evidence.\n",
		Decode:      decodePrompt,
		CrossChecks: nil,
		Overrides: []OverrideRule{
			{EnvVar: "PROMPT_AUDIENCE", FieldPath: "audience", Type: OverrideString, Redaction: RedactInclude},
		},
	}
}

func decodePrompt(canonicalBytes []byte) (any, error) {
	meta, err := canonical.FrontMatter(canonicalBytes)
	if err != nil {
		return nil, err
	}

	body := string(canonicalBytes)
	if meta != nil {
		// Strip the header: body starts after the second fence line.
		parts := strings.SplitN(body, "---\n", 3)
		if len(parts) == 3 {
			body = parts[2]
		}
	}

	c := &PromptConfig{Body: body}
	for k, v := range meta {
		val := fmt.Sprintf("%v", v)
		switch k {
		case "title":
			c.Title = val
		case "audience":
			c.Audience = val
		default:
			if c.Meta == nil {
				c.Meta = map[string]string{}
			}
			c.Meta[k] = val
		}
	}
	return c, nil
}
