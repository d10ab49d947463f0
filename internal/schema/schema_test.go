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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationFields(t *testing.T, err error) []FieldError {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	return verr.Fields
}

func TestValidateSearchOK(t *testing.T) {
	r := NewRegistry()
	err := r.Validate(TypeSearch, []byte(`{"provider":"brave","maxResults":10,"timeoutMillis":5000}`))
	require.NoError(t, err)
}

func TestValidateSearchFieldErrors(t *testing.T) {
	r := NewRegistry()
	err := r.Validate(TypeSearch, []byte(`{"provider":"askjeeves","maxResults":0,"timeoutMillis":5000}`))
	fields := validationFields(t, err)

	var got []string
	for _, f := range fields {
		got = append(got, f.Field)
	}
	assert.Contains(t, got, "provider")
	assert.Contains(t, got, "maxResults")
}

func TestValidateRejectsSecretNames(t *testing.T) {
	r := NewRegistry()
	cases := []string{
		`{"provider":"brave","maxResults":5,"timeoutMillis":5000,"apiKey":"x"}`,
		`{"provider":"brave","maxResults":5,"timeoutMillis":5000,"api_key":"x"}`,
		`{"provider":"brave","maxResults":5,"timeoutMillis":5000,"nested":{"ACCESS_TOKEN":"x"}}`,
		`{"provider":"brave","maxResults":5,"timeoutMillis":5000,"dbPassword":"x"}`,
		`{"provider":"brave","maxResults":5,"timeoutMillis":5000,"clientSecret":"x"}`,
		`{"provider":"brave","maxResults":5,"timeoutMillis":5000,"credentials":["x"]}`,
	}
	for _, c := range cases {
		err := r.Validate(TypeSearch, []byte(c))
		require.Error(t, err, c)
		fields := validationFields(t, err)
		assert.Contains(t, fields[0].Message, "secret-like", c)
	}
}

func TestValidateSecretNamesInFrontMatter(t *testing.T) {
	r := NewRegistry()
	err := r.Validate(TypePrompt, []byte("---\ntitle: x\napi_key: nope\n---\nbody\n"))
	fields := validationFields(t, err)
	require.NotEmpty(t, fields)
	assert.Equal(t, "api_key", fields[0].Field)
}

func TestValidateRankingContiguity(t *testing.T) {
	r := NewRegistry()

	ok := `{"bands":[{"label":"low","min":0,"max":0.5},{"label":"high","min":0.5,"max":1}],"minEvidence":2,"decayHalfLifeDays":30}`
	require.NoError(t, r.Validate(TypeRanking, []byte(ok)))

	gap := `{"bands":[{"label":"low","min":0,"max":0.4},{"label":"high","min":0.5,"max":1}],"minEvidence":2,"decayHalfLifeDays":30}`
	err := r.Validate(TypeRanking, []byte(gap))
	fields := validationFields(t, err)
	assert.Equal(t, "bands[1].min", fields[0].Field)

	uncovered := `{"bands":[{"label":"low","min":0,"max":0.4},{"label":"high","min":0.4,"max":0.9}],"minEvidence":2,"decayHalfLifeDays":30}`
	err = r.Validate(TypeRanking, []byte(uncovered))
	fields = validationFields(t, err)
	assert.Equal(t, "bands[1].max", fields[0].Field)

	inverted := `{"bands":[{"label":"low","min":0.5,"max":0},{"label":"high","min":0,"max":1}],"minEvidence":2,"decayHalfLifeDays":30}`
	err = r.Validate(TypeRanking, []byte(inverted))
	require.Error(t, err)
}

func TestValidatePipelineBackoffOrdering(t *testing.T) {
	r := NewRegistry()
	bad := `{"maxConcurrency":4,"batchSize":10,"retryLimit":2,"minBackoffMillis":5000,"maxBackoffMillis":100}`
	err := r.Validate(TypePipeline, []byte(bad))
	fields := validationFields(t, err)
	assert.Equal(t, "minBackoffMillis", fields[0].Field)
}

func TestValidatePromptRequiresTitle(t *testing.T) {
	r := NewRegistry()
	err := r.Validate(TypePrompt, []byte("---\naudience: internal\n---\nbody\n"))
	require.Error(t, err)
}

func TestValidateUnknownType(t *testing.T) {
	r := NewRegistry()
	err := r.Validate("nope", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownConfigType))
}

func TestCanonicalizeDispatch(t *testing.T) {
	r := NewRegistry()

	got, err := r.Canonicalize(TypeSearch, []byte(`{"b":2,"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(got))

	got, err = r.Canonicalize(TypePrompt, []byte("---\nz: 1\na: 2\n---\nBody\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "---\na: 2\nz: 1\n---\nBody\n", string(got))
}

func TestDecodePrompt(t *testing.T) {
	r := NewRegistry()
	s, err := r.Get(TypePrompt)
	require.NoError(t, err)

	canon, err := r.Canonicalize(TypePrompt, []byte("---\ntitle: verify\naudience: ops\nmodel: sonnet\n---\nDo the thing.\n"))
	require.NoError(t, err)

	v, err := s.Decode(canon)
	require.NoError(t, err)
	p := v.(*PromptConfig)
	assert.Equal(t, "verify", p.Title)
	assert.Equal(t, "ops", p.Audience)
	assert.Equal(t, "sonnet", p.Meta["model"])
	assert.Equal(t, "Do the thing.\n", p.Body)
}

func TestValidKeyName(t *testing.T) {
	assert.True(t, ValidKeyName("default"))
	assert.True(t, ValidKeyName("team-a.v2"))
	assert.False(t, ValidKeyName(""))
	assert.False(t, ValidKeyName("Upper"))
	assert.False(t, ValidKeyName("-leading"))
	assert.False(t, ValidKeyName("has space"))
}

func TestSecretName(t *testing.T) {
	for _, name := range []string{"apiKey", "api-key", "API_KEY", "mySecret", "authToken", "password", "credentialFile"} {
		assert.True(t, SecretName(name), name)
	}
	for _, name := range []string{"maxResults", "provider", "tokenizer"} {
		if name == "tokenizer" {
			// "tokenizer" contains "token"; the denylist is deliberately
			// aggressive, matching the store's hard-failure posture.
			assert.True(t, SecretName(name))
			continue
		}
		assert.False(t, SecretName(name), name)
	}
}
