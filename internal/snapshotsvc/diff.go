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

package snapshotsvc

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DiffEntry is one field-level difference between two snapshots. A nil side
// means the field (or the whole config type) is absent there.
type DiffEntry struct {
	ConfigType string `json:"configType"`
	Field      string `json:"field"`
	Left       any    `json:"left"`
	Right      any    `json:"right"`
}

// Diff is the field-level comparison of two snapshots.
type Diff struct {
	LeftID    string      `json:"leftId"`
	RightID   string      `json:"rightId"`
	Identical bool        `json:"identical"`
	Entries   []DiffEntry `json:"entries"`
}

// Compare produces a field-level diff across all config types of two
// snapshots. Matching configVersionHash short-circuits to an identical
// result.
func Compare(left, right Snapshot) Diff {
	d := Diff{LeftID: left.ConsumerID, RightID: right.ConsumerID}
	if left.ConfigVersionHash == right.ConfigVersionHash {
		d.Identical = true
		return d
	}

	types := map[string]bool{}
	for t := range left.Configs {
		types[t] = true
	}
	for t := range right.Configs {
		types[t] = true
	}

	for t := range types {
		lc, lok := left.Configs[t]
		rc, rok := right.Configs[t]
		switch {
		case !lok:
			d.Entries = append(d.Entries, DiffEntry{ConfigType: t, Field: "", Right: "present"})
		case !rok:
			d.Entries = append(d.Entries, DiffEntry{ConfigType: t, Field: "", Left: "present"})
		default:
			d.Entries = append(d.Entries, diffConfigs(t, lc, rc)...)
		}
	}

	sort.Slice(d.Entries, func(i, j int) bool {
		if d.Entries[i].ConfigType != d.Entries[j].ConfigType {
			return d.Entries[i].ConfigType < d.Entries[j].ConfigType
		}
		return d.Entries[i].Field < d.Entries[j].Field
	})
	d.Identical = len(d.Entries) == 0
	return d
}

func diffConfigs(configType string, left, right ResolvedConfig) []DiffEntry {
	lf := flattenContent(left.Content)
	rf := flattenContent(right.Content)

	fields := map[string]bool{}
	for f := range lf {
		fields[f] = true
	}
	for f := range rf {
		fields[f] = true
	}

	var out []DiffEntry
	for f := range fields {
		lv, lok := lf[f]
		rv, rok := rf[f]
		if lok && rok && lv == rv {
			continue
		}
		out = append(out, DiffEntry{ConfigType: configType, Field: f, Left: lv, Right: rv})
	}
	if left.ProfileKey != right.ProfileKey {
		out = append(out, DiffEntry{ConfigType: configType, Field: "$profileKey", Left: left.ProfileKey, Right: right.ProfileKey})
	}
	return out
}

// flattenContent turns JSON content into dotted path -> scalar pairs.
// Non-JSON content (Markdown) compares as a single "content" field.
func flattenContent(content string) map[string]any {
	var doc any
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return map[string]any{"content": content}
	}
	out := map[string]any{}
	flatten("", doc, out)
	return out
}

func flatten(path string, v any, out map[string]any) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			p := k
			if path != "" {
				p = path + "." + k
			}
			flatten(p, child, out)
		}
	case []any:
		for i, child := range val {
			flatten(fmt.Sprintf("%s[%d]", path, i), child, out)
		}
	default:
		out[path] = v
	}
}
