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
	"encoding/json"
	"fmt"
)

const TypeRanking = "ranking"

// ScoreBand labels one contiguous score interval [Min, Max).
type ScoreBand struct {
	Label string  `json:"label" validate:"required"`
	Min   float64 `json:"min" validate:"gte=0,lte=1"`
	Max   float64 `json:"max" validate:"gte=0,lte=1"`
}

// RankingConfig controls claim scoring. Bands must be monotonic and cover
// [0,1] with no gaps or overlaps.
type RankingConfig struct {
	Bands             []ScoreBand `json:"bands" validate:"required,min=2,dive"`
	MinEvidence       int         `json:"minEvidence" validate:"required,min=1,max=50"`
	DecayHalfLifeDays float64     `json:"decayHalfLifeDays" validate:"required,gt=0"`
}

func rankingSchema() *Schema {
	return &Schema{
		ConfigType:    TypeRanking,
		SchemaVersion: 1,
		Kind:          KindJSON,
		Defaults: func() any {
			return &RankingConfig{
				Bands: []ScoreBand{
					{Label: "refuted", Min: 0, Max: 0.25},
					{Label: "contested", Min: 0.25, Max: 0.6},
					{Label: "supported", Min: 0.6, Max: 1},
				},
				MinEvidence:       3,
				DecayHalfLifeDays: 90,
			}
		},
		Decode: func(canonical []byte) (any, error) {
			var c RankingConfig
			if err := json.Unmarshal(canonical, &c); err != nil {
				return nil, err
			}
			return &c, nil
		},
		CrossChecks: rankingCrossChecks,
		Overrides: []OverrideRule{
			{EnvVar: "RANKING_MIN_EVIDENCE", FieldPath: "minEvidence", Type: OverrideInt, Redaction: RedactInclude},
		},
	}
}

func rankingCrossChecks(v any) []FieldError {
	c, ok := v.(*RankingConfig)
	if !ok || len(c.Bands) == 0 {
		return nil
	}

	var out []FieldError
	for i, b := range c.Bands {
		if b.Min >= b.Max {
			out = append(out, FieldError{
				Field:   fmt.Sprintf("bands[%d]", i),
				Message: "min must be strictly less than max",
			})
		}
		if i > 0 && c.Bands[i-1].Max != b.Min {
			out = append(out, FieldError{
				Field:   fmt.Sprintf("bands[%d].min", i),
				Message: fmt.Sprintf("bands must be contiguous: expected min %v, got %v", c.Bands[i-1].Max, b.Min),
			})
		}
	}
	if c.Bands[0].Min != 0 {
		out = append(out, FieldError{Field: "bands[0].min", Message: "bands must start at 0"})
	}
	if c.Bands[len(c.Bands)-1].Max != 1 {
		out = append(out, FieldError{
			Field:   fmt.Sprintf("bands[%d].max", len(c.Bands)-1),
			Message: "bands must end at 1",
		})
	}
	return out
}
