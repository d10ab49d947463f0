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

import "encoding/json"

const TypeSearch = "search"

// SearchConfig controls the evidence search stage.
type SearchConfig struct {
	Provider      string `json:"provider" validate:"required,oneof=bing brave serpapi"`
	MaxResults    int    `json:"maxResults" validate:"required,min=1,max=100"`
	TimeoutMillis int    `json:"timeoutMillis" validate:"required,min=100,max=60000"`
	Endpoint      string `json:"endpoint" validate:"omitempty,url"`
	Locale        string `json:"locale" validate:"omitempty,bcp47_language_tag"`
}

func searchSchema() *Schema {
	return &Schema{
		ConfigType:    TypeSearch,
		SchemaVersion: 1,
		Kind:          KindJSON,
		Defaults: func() any {
			return &SearchConfig{
				Provider:      "brave",
				MaxResults:    6,
				TimeoutMillis: 8000,
			}
		},
		Decode: func(canonical []byte) (any, error) {
			var c SearchConfig
			if err := json.Unmarshal(canonical, &c); err != nil {
				return nil, err
			}
			return &c, nil
		},
		Overrides: []OverrideRule{
			{EnvVar: "SEARCH_MAX_RESULTS", FieldPath: "maxResults", Type: OverrideInt, Redaction: RedactInclude},
			{EnvVar: "SEARCH_TIMEOUT_MILLIS", FieldPath: "timeoutMillis", Type: OverrideInt, Redaction: RedactInclude},
			{EnvVar: "SEARCH_PROVIDER", FieldPath: "provider", Type: OverrideString, Redaction: RedactInclude},
			{EnvVar: "SEARCH_ENDPOINT", FieldPath: "endpoint", Type: OverrideString, Redaction: RedactHash},
		},
	}
}
