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

// Package schema defines the per-type configuration schemas: content kind,
// typed decoding, validation, defaults, and the override/redaction tables
// consumed by the override resolver.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cardinalhq/confighub/internal/canonical"
)

// Kind is the content format of a config type.
type Kind int

const (
	KindJSON Kind = iota + 1
	KindMarkdown
)

// Redaction classifies how an applied override value may be recorded.
type Redaction string

const (
	RedactInclude Redaction = "include"
	RedactHash    Redaction = "hash"
	RedactOmit    Redaction = "omit"
)

// OverrideType is the declared parse type of an override variable.
type OverrideType string

const (
	OverrideInt      OverrideType = "int"
	OverrideFloat    OverrideType = "float"
	OverrideBool     OverrideType = "bool"
	OverrideString   OverrideType = "string"
	OverrideDuration OverrideType = "duration"
)

// OverrideRule maps one environment variable to one field path. Variables
// not listed in a type's table are ignored by the resolver.
type OverrideRule struct {
	EnvVar    string
	FieldPath string
	Type      OverrideType
	Redaction Redaction
}

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field errors for one validation pass.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Schema describes one config type.
type Schema struct {
	ConfigType    string
	SchemaVersion int32
	Kind          Kind

	// Defaults returns a freshly allocated typed value used when no
	// pointer has ever been activated for a profile.
	Defaults func() any

	// DefaultDoc is the default content document for Markdown kinds, where
	// the typed value cannot be mechanically re-serialized. JSON kinds
	// leave it empty and derive the document from Defaults.
	DefaultDoc string

	// Decode parses canonical bytes into the typed value.
	Decode func(canonical []byte) (any, error)

	// CrossChecks runs invariants spanning multiple fields. Tag-level
	// constraints are handled by the shared validator.
	CrossChecks func(v any) []FieldError

	Overrides []OverrideRule
}

var keyNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// ValidKeyName reports whether s is acceptable as a configType or
// profileKey. Both are opaque, charset-validated namespaces.
func ValidKeyName(s string) bool {
	return keyNamePattern.MatchString(s)
}

// secretNamePattern rejects any field whose name looks like a credential.
// Matching is a hard validation failure: secrets never enter the store.
var secretNamePattern = regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password|credential)`)

// SecretName reports whether a field name matches the denylist.
func SecretName(name string) bool {
	return secretNamePattern.MatchString(name)
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Registry holds the known config type schemas.
type Registry struct {
	byType map[string]*Schema
}

// NewRegistry builds a registry with the built-in config types.
func NewRegistry() *Registry {
	r := &Registry{byType: map[string]*Schema{}}
	r.register(searchSchema())
	r.register(rankingSchema())
	r.register(pipelineSchema())
	r.register(promptSchema())
	return r
}

func (r *Registry) register(s *Schema) {
	r.byType[s.ConfigType] = s
}

var ErrUnknownConfigType = errors.New("unknown config type")

// Get returns the schema for a config type.
func (r *Registry) Get(configType string) (*Schema, error) {
	s, ok := r.byType[configType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConfigType, configType)
	}
	return s, nil
}

// Types returns all registered config types, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Canonicalize normalizes content per the type's content kind.
func (r *Registry) Canonicalize(configType string, content []byte) ([]byte, error) {
	s, err := r.Get(configType)
	if err != nil {
		return nil, err
	}
	switch s.Kind {
	case KindMarkdown:
		return canonical.Markdown(content)
	default:
		return canonical.JSON(content)
	}
}

// DefaultContent returns the canonical default document served when a key
// has no activation.
func (r *Registry) DefaultContent(configType string) ([]byte, error) {
	s, err := r.Get(configType)
	if err != nil {
		return nil, err
	}
	if s.Kind == KindMarkdown {
		return canonical.Markdown([]byte(s.DefaultDoc))
	}
	raw, err := json.Marshal(s.Defaults())
	if err != nil {
		return nil, err
	}
	return canonical.JSON(raw)
}

// Validate runs the full validation pass for raw (not yet canonical)
// content: structural parse, secret-name scan, tag constraints, and
// cross-field invariants. Returns *ValidationError on failure.
func (r *Registry) Validate(configType string, content []byte) error {
	s, err := r.Get(configType)
	if err != nil {
		return err
	}

	var fields []FieldError
	switch s.Kind {
	case KindMarkdown:
		fields = validateMarkdown(s, content)
	default:
		fields = validateJSON(s, content)
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validateJSON(s *Schema, content []byte) []FieldError {
	var doc any
	if err := json.Unmarshal(content, &doc); err != nil {
		return []FieldError{{Field: "", Message: "invalid JSON: " + err.Error()}}
	}
	if fields := scanSecretNames(doc, ""); len(fields) > 0 {
		return fields
	}

	canon, err := canonical.JSON(content)
	if err != nil {
		return []FieldError{{Field: "", Message: err.Error()}}
	}
	typed, err := s.Decode(canon)
	if err != nil {
		return []FieldError{{Field: "", Message: "decode: " + err.Error()}}
	}
	return validateTyped(s, typed)
}

func validateMarkdown(s *Schema, content []byte) []FieldError {
	meta, err := canonical.FrontMatter(content)
	if err != nil {
		return []FieldError{{Field: "", Message: err.Error()}}
	}
	if fields := scanSecretNames(meta, ""); len(fields) > 0 {
		return fields
	}

	canon, err := canonical.Markdown(content)
	if err != nil {
		return []FieldError{{Field: "", Message: err.Error()}}
	}
	typed, err := s.Decode(canon)
	if err != nil {
		return []FieldError{{Field: "", Message: "decode: " + err.Error()}}
	}
	return validateTyped(s, typed)
}

func validateTyped(s *Schema, typed any) []FieldError {
	var fields []FieldError
	if err := structValidator.Struct(typed); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, FieldError{
					Field:   trimNamespace(fe.Namespace()),
					Message: "failed constraint " + fe.Tag(),
				})
			}
		} else {
			fields = append(fields, FieldError{Message: err.Error()})
		}
	}
	if s.CrossChecks != nil {
		fields = append(fields, s.CrossChecks(typed)...)
	}
	return fields
}

// trimNamespace drops the root struct name from a validator namespace,
// leaving a dotted field path like "bands[0].max".
func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// scanSecretNames walks a decoded document and reports every mapping key
// matching the secret denylist.
func scanSecretNames(doc any, path string) []FieldError {
	var out []FieldError
	switch v := doc.(type) {
	case map[string]any:
		for k, child := range v {
			p := k
			if path != "" {
				p = path + "." + k
			}
			if SecretName(k) {
				out = append(out, FieldError{Field: p, Message: "secret-like field names are not allowed"})
			}
			out = append(out, scanSecretNames(child, p)...)
		}
	case []any:
		for i, child := range v {
			out = append(out, scanSecretNames(child, fmt.Sprintf("%s[%d]", path, i))...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}
