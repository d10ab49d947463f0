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

package dbopen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDatabaseURLFromEnv_URLWins(t *testing.T) {
	t.Setenv("CONFIGDB_URL", "postgresql://u:p@db:5432/confighub")
	t.Setenv("CONFIGDB_HOST", "ignored")

	got, err := GetDatabaseURLFromEnv("CONFIGDB")
	require.NoError(t, err)
	assert.Equal(t, "postgresql://u:p@db:5432/confighub", got)
}

func TestGetDatabaseURLFromEnv_Components(t *testing.T) {
	t.Setenv("CONFIGDB_HOST", "db.internal")
	t.Setenv("CONFIGDB_DBNAME", "confighub")
	t.Setenv("CONFIGDB_USER", "svc")
	t.Setenv("CONFIGDB_PASSWORD", "pw")
	t.Setenv("CONFIGDB_SSLMODE", "require")

	got, err := GetDatabaseURLFromEnv("CONFIGDB")
	require.NoError(t, err)
	assert.Equal(t, "postgresql://svc:pw@db.internal:5432/confighub?sslmode=require", got)
}

func TestGetDatabaseURLFromEnv_Missing(t *testing.T) {
	t.Setenv("CONFIGDB_HOST", "")
	t.Setenv("CONFIGDB_DBNAME", "")
	t.Setenv("CONFIGDB_URL", "")

	_, err := GetDatabaseURLFromEnv("CONFIGDB")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIGDB_HOST")
	assert.Contains(t, err.Error(), "CONFIGDB_DBNAME")
}

func TestGetDatabaseURLFromEnv_ApplicationName(t *testing.T) {
	t.Setenv("CONFIGDB_HOST", "db")
	t.Setenv("CONFIGDB_DBNAME", "confighub")
	t.Setenv("OTEL_SERVICE_NAME", "confighub serve!")

	got, err := GetDatabaseURLFromEnv("CONFIGDB")
	require.NoError(t, err)
	assert.Contains(t, got, "application_name=confighub_serve_")
}
