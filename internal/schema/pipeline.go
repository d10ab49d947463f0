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

const TypePipeline = "pipeline"

// PipelineConfig controls the research pipeline's execution shape.
type PipelineConfig struct {
	MaxConcurrency   int     `json:"maxConcurrency" validate:"required,min=1,max=256"`
	BatchSize        int     `json:"batchSize" validate:"required,min=1,max=1000"`
	RetryLimit       int     `json:"retryLimit" validate:"min=0,max=10"`
	MinBackoffMillis int     `json:"minBackoffMillis" validate:"required,min=1"`
	MaxBackoffMillis int     `json:"maxBackoffMillis" validate:"required,min=1"`
	Temperature      float64 `json:"temperature" validate:"gte=0,lte=2"`
	CallbackURL      string  `json:"callbackUrl" validate:"omitempty,url"`
}

func pipelineSchema() *Schema {
	return &Schema{
		ConfigType:    TypePipeline,
		SchemaVersion: 1,
		Kind:          KindJSON,
		Defaults: func() any {
			return &PipelineConfig{
				MaxConcurrency:   8,
				BatchSize:        25,
				RetryLimit:       3,
				MinBackoffMillis: 250,
				MaxBackoffMillis: 15000,
				Temperature:      0.2,
			}
		},
		Decode: func(canonical []byte) (any, error) {
			var c PipelineConfig
			if err := json.Unmarshal(canonical, &c); err != nil {
				return nil, err
			}
			return &c, nil
		},
		CrossChecks: func(v any) []FieldError {
			c, ok := v.(*PipelineConfig)
			if !ok {
				return nil
			}
			if c.MinBackoffMillis > c.MaxBackoffMillis {
				return []FieldError{{
					Field:   "minBackoffMillis",
					Message: "must not exceed maxBackoffMillis",
				}}
			}
			return nil
		},
		Overrides: []OverrideRule{
			{EnvVar: "PIPELINE_MAX_CONCURRENCY", FieldPath: "maxConcurrency", Type: OverrideInt, Redaction: RedactInclude},
			{EnvVar: "PIPELINE_TEMPERATURE", FieldPath: "temperature", Type: OverrideFloat, Redaction: RedactInclude},
			{EnvVar: "PIPELINE_CALLBACK_URL", FieldPath: "callbackUrl", Type: OverrideString, Redaction: RedactOmit},
		},
	}
}
