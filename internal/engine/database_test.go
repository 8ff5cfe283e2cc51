package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/SS8816/rulequery/internal/errors"
)

func TestResolveDatabasePrimaryPattern(t *testing.T) {
	tests := []struct {
		name string
		ddl  string
		want string
	}{
		{
			name: "backtick qualified",
			ddl:  "CREATE EXTERNAL TABLE `prod_db.latest_events` (id bigint)",
			want: "prod_db",
		},
		{
			name: "unquoted qualified",
			ddl:  "CREATE EXTERNAL TABLE analytics.events (id bigint)",
			want: "analytics",
		},
		{
			name: "bare table name",
			ddl:  "CREATE EXTERNAL TABLE standalone (id bigint)",
			want: "standalone",
		},
		{
			name: "case insensitive",
			ddl:  "create external table mydb.t (id bigint)",
			want: "mydb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveDatabase(tt.ddl)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveDatabaseFallbackPattern(t *testing.T) {
	ddl := "some preamble referencing `fastmap_prod.latest_roads` in text"

	got, err := resolveDatabase(ddl)
	require.NoError(t, err)
	assert.Equal(t, "fastmap_prod", got)
}

func TestResolveDatabaseNoMatch(t *testing.T) {
	_, err := resolveDatabase("this text has no table definition at all")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeSchemaResolution))
}
