package db

import (
	"testing"

	"github.com/smallbiznis/gradewise/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect(t *testing.T) {
	tests := []struct {
		dbType string
		want   string
	}{
		{dbType: "postgres", want: "postgres"},
		{dbType: " PostgreSQL ", want: "postgres"},
		{dbType: "mysql", want: "mysql"},
		{dbType: "sqlite", want: "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.dbType, func(t *testing.T) {
			dialector, err := Dialect(config.Config{DBType: tt.dbType, DBName: "gradewise"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, dialector.Name())
		})
	}

	_, err := Dialect(config.Config{DBType: "oracle"})
	assert.ErrorContains(t, err, `unsupported database type "oracle"`)
}
