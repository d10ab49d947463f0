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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSortsKeys(t *testing.T) {
	got, err := JSON([]byte(`{"b":2,"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(got))
}

func TestJSONSemanticEquivalence(t *testing.T) {
	a, err := JSON([]byte(`{"b": 2, "a": 1}`))
	require.NoError(t, err)
	b, err := JSON([]byte("{\n  \"a\": 1,\n  \"b\": 2\n}"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, Hash(a), Hash(b))
}

func TestJSONIdempotent(t *testing.T) {
	inputs := []string{
		`{"b":2,"a":1}`,
		`{"nested":{"z":true,"a":[3,2,1]},"s":"x"}`,
		`{"f":0.25,"big":12345678901234567890}`,
		`[1,2,3]`,
		`"scalar"`,
	}
	for _, in := range inputs {
		once, err := JSON([]byte(in))
		require.NoError(t, err, in)
		twice, err := JSON(once)
		require.NoError(t, err, in)
		assert.Equal(t, once, twice, in)
		assert.Equal(t, Hash(once), Hash(twice), in)
	}
}

func TestJSONNestedKeyOrder(t *testing.T) {
	got, err := JSON([]byte(`{"outer":{"z":1,"m":{"b":2,"a":1}}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"outer":{"m":{"a":1,"b":2},"z":1}}`, string(got))
}

func TestJSONRejectsInvalid(t *testing.T) {
	_, err := JSON([]byte(`{"a":`))
	assert.ErrorIs(t, err, ErrInvalidJSON)

	_, err = JSON([]byte(`{"a":1} trailing`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestJSONNoTrailingNewline(t *testing.T) {
	got, err := JSON([]byte(`{"a":1}`))
	require.NoError(t, err)
	assert.NotEqual(t, byte('\n'), got[len(got)-1])
}

func TestMarkdownNormalizesLineEndings(t *testing.T) {
	got, err := Markdown([]byte("line one\r\nline two\rline three  \n"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\nline three\n", string(got))
}

func TestMarkdownSortsFrontMatter(t *testing.T) {
	in := "---\ntitle: hello\naudience: internal\n---\nBody text.\n"
	got, err := Markdown([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, "---\naudience: internal\ntitle: hello\n---\nBody text.\n", string(got))
}

func TestMarkdownIdempotent(t *testing.T) {
	inputs := []string{
		"---\nz: 1\na: two\n---\n# Title\n\nsome text   \n\n\n",
		"no header at all\r\njust text",
		"---\nonly: header\n---\n",
	}
	for _, in := range inputs {
		once, err := Markdown([]byte(in))
		require.NoError(t, err, in)
		twice, err := Markdown(once)
		require.NoError(t, err, in)
		assert.Equal(t, string(once), string(twice), in)
	}
}

func TestMarkdownExactlyOneTrailingNewline(t *testing.T) {
	got, err := Markdown([]byte("text\n\n\n"))
	require.NoError(t, err)
	assert.Equal(t, "text\n", string(got))
}

func TestMarkdownUnterminatedHeader(t *testing.T) {
	_, err := Markdown([]byte("---\ntitle: x\nno closing fence"))
	assert.ErrorIs(t, err, ErrInvalidFrontMatter)
}

func TestFrontMatter(t *testing.T) {
	meta, err := FrontMatter([]byte("---\ntitle: x\nversion: 3\n---\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "x", meta["title"])
	assert.Equal(t, 3, meta["version"])

	meta, err = FrontMatter([]byte("plain body"))
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestHashIsStable(t *testing.T) {
	assert.Equal(t,
		Hash([]byte(`{"a":1,"b":2}`)),
		Hash([]byte(`{"a":1,"b":2}`)))
	assert.Len(t, Hash(nil), 64)
}
