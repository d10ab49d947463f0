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

// Package overrides layers environment-variable values over resolved config
// content. Only variables declared in a type's schema table are consulted;
// everything else in the environment is invisible to the resolver. The
// database content is never modified, and every application is recorded for
// the usage ledger with the declared redaction class.
package overrides

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cardinalhq/confighub/internal/canonical"
	"github.com/cardinalhq/confighub/internal/logctx"
	"github.com/cardinalhq/confighub/internal/schema"
)

// Policy controls whether the resolver consults the environment at all.
type Policy string

const (
	PolicyOff Policy = "off"
	PolicyOn  Policy = "on"
)

// Config tunes the resolver.
type Config struct {
	Policy Policy

	// Allowlist, when non-empty, restricts application to these env vars
	// even for declared rules.
	Allowlist []string
}

// Applied records one declared override and what happened to it. Values are
// redacted per the rule's class before leaving this package.
type Applied struct {
	EnvVar    string           `json:"envVar"`
	Field     string           `json:"field"`
	Redaction schema.Redaction `json:"redaction"`
	Applied   bool             `json:"applied"`
	Value     any              `json:"value,omitempty"`
	ValueHash string           `json:"valueHash,omitempty"`
	Note      string           `json:"note,omitempty"`
}

type Resolver struct {
	reg    *schema.Registry
	cfg    Config
	lookup func(string) (string, bool)
}

func NewResolver(reg *schema.Registry, cfg Config) *Resolver {
	return &Resolver{
		reg:    reg,
		cfg:    cfg,
		lookup: os.LookupEnv,
	}
}

// Apply layers declared environment overrides onto canonical content and
// returns the re-canonicalized result plus the application record. The
// result is re-validated: an override can never turn valid stored content
// into an invalid effective config.
func (r *Resolver) Apply(ctx context.Context, configType string, canonicalContent []byte) ([]byte, []Applied, error) {
	sch, err := r.reg.Get(configType)
	if err != nil {
		return nil, nil, err
	}
	if r.cfg.Policy != PolicyOn || len(sch.Overrides) == 0 {
		return canonicalContent, nil, nil
	}

	ll := logctx.FromContext(ctx)
	var applied []Applied
	content := canonicalContent
	changed := false

	rules := slices.Clone(sch.Overrides)
	slices.SortFunc(rules, func(a, b schema.OverrideRule) int {
		return strings.Compare(a.EnvVar, b.EnvVar)
	})

	for _, rule := range rules {
		raw, ok := r.lookup(rule.EnvVar)
		if !ok {
			continue
		}
		if len(r.cfg.Allowlist) > 0 && !slices.Contains(r.cfg.Allowlist, rule.EnvVar) {
			applied = append(applied, redact(rule, raw, raw, false, "not in allowlist"))
			continue
		}

		value, err := parseValue(rule.Type, raw)
		if err != nil {
			ll.Warn("Skipping unparseable override",
				"envVar", rule.EnvVar, "declaredType", string(rule.Type), "error", err)
			applied = append(applied, redact(rule, raw, raw, false, "unparseable: "+err.Error()))
			continue
		}

		next, err := setField(sch.Kind, content, rule.FieldPath, value)
		if err != nil {
			return nil, nil, fmt.Errorf("apply override %s to %s: %w", rule.EnvVar, rule.FieldPath, err)
		}
		content = next
		changed = true
		applied = append(applied, redact(rule, raw, value, true, ""))
	}

	if changed {
		if err := r.reg.Validate(configType, content); err != nil {
			return nil, nil, fmt.Errorf("overridden config failed validation: %w", err)
		}
		if content, err = r.reg.Canonicalize(configType, content); err != nil {
			return nil, nil, err
		}
	}
	return content, applied, nil
}

// redact builds the application record. The hash class always hashes the raw
// env string; the include class records the parsed typed value so the ledger
// shows what actually landed in the config, not its string spelling.
func redact(rule schema.OverrideRule, raw string, value any, wasApplied bool, note string) Applied {
	a := Applied{
		EnvVar:    rule.EnvVar,
		Field:     rule.FieldPath,
		Redaction: rule.Redaction,
		Applied:   wasApplied,
		Note:      note,
	}
	switch rule.Redaction {
	case schema.RedactHash:
		sum := sha256.Sum256([]byte(raw))
		a.ValueHash = hex.EncodeToString(sum[:])
	case schema.RedactOmit:
		// value never leaves the process
	default:
		a.Value = value
	}
	return a
}

func parseValue(t schema.OverrideType, raw string) (any, error) {
	switch t {
	case schema.OverrideInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		return json.Number(strconv.FormatInt(n, 10)), nil
	case schema.OverrideFloat:
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return nil, err
		}
		return json.Number(raw), nil
	case schema.OverrideBool:
		return strconv.ParseBool(raw)
	case schema.OverrideDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		return json.Number(strconv.FormatInt(d.Milliseconds(), 10)), nil
	default:
		return raw, nil
	}
}

// setField sets a dotted field path in the document, creating intermediate
// objects as needed. For markdown content the path addresses the YAML front
// matter.
func setField(kind schema.Kind, content []byte, fieldPath string, value any) ([]byte, error) {
	if kind == schema.KindMarkdown {
		return setFrontMatterField(content, fieldPath, value)
	}

	dec := json.NewDecoder(strings.NewReader(string(content)))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if err := setPath(doc, fieldPath, value); err != nil {
		return nil, err
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return canonical.JSON(out)
}

func setPath(doc map[string]any, fieldPath string, value any) error {
	parts := strings.Split(fieldPath, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		child, ok := cur[part]
		if !ok {
			next := map[string]any{}
			cur[part] = next
			cur = next
			continue
		}
		m, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("path segment %q is not an object", part)
		}
		cur = m
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

func setFrontMatterField(content []byte, fieldPath string, value any) ([]byte, error) {
	meta, body, err := canonical.SplitFrontMatter(content)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = map[string]any{}
	}
	if err := setPath(meta, fieldPath, value); err != nil {
		return nil, err
	}
	return canonical.AssembleMarkdown(meta, body)
}
