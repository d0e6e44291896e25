package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func observeGlobal(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestGormLoggerTrace(t *testing.T) {
	query := func() (string, int64) { return "UPDATE credit_accounts SET balance = ?", 1 }

	tests := []struct {
		name       string
		cfg        GormLoggerConfig
		elapsed    time.Duration
		err        error
		wantMsg    string
		wantLevel  zapcore.Level
		constraint string
	}{
		{
			name:      "error",
			cfg:       DefaultGormLoggerConfig(),
			err:       errors.New("connection reset"),
			wantMsg:   "gorm.query",
			wantLevel: zapcore.ErrorLevel,
		},
		{
			name:       "check constraint",
			cfg:        DefaultGormLoggerConfig(),
			err:        errors.New("CHECK constraint failed: chk_credit_accounts_balance"),
			wantMsg:    "gorm.constraint",
			wantLevel:  zapcore.WarnLevel,
			constraint: "check",
		},
		{
			name:       "duplicate grant",
			cfg:        DefaultGormLoggerConfig(),
			err:        errors.New("UNIQUE constraint failed: credit_grants.account_id, credit_grants.external_id"),
			wantMsg:    "gorm.constraint",
			wantLevel:  zapcore.WarnLevel,
			constraint: "unique",
		},
		{
			name:      "slow",
			cfg:       DefaultGormLoggerConfig(),
			elapsed:   time.Second,
			wantMsg:   "gorm.slow_query",
			wantLevel: zapcore.WarnLevel,
		},
		{
			name:      "info traces every query",
			cfg:       GormLoggerConfig{Level: gormlogger.Info},
			wantMsg:   "gorm.query",
			wantLevel: zapcore.DebugLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := observeGlobal(t)
			l := NewGormLogger(tt.cfg)

			l.Trace(context.Background(), time.Now().Add(-tt.elapsed), query, tt.err)

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantMsg, entries[0].Message)
			assert.Equal(t, tt.wantLevel, entries[0].Level)
			fields := entries[0].ContextMap()
			assert.Equal(t, "UPDATE", fields["operation"])
			if tt.constraint != "" {
				assert.Equal(t, tt.constraint, fields["constraint"])
			}
		})
	}
}

func TestGormLoggerQuietPaths(t *testing.T) {
	logs := observeGlobal(t)
	query := func() (string, int64) { return "SELECT * FROM submissions", 0 }

	cfg := DefaultGormLoggerConfig()
	cfg.IgnoreRecordNotFound = true
	NewGormLogger(cfg).Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
	NewGormLogger(cfg).Trace(context.Background(), time.Now(), query, nil)
	NewGormLogger(cfg).LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), query, errors.New("boom"))

	assert.Zero(t, logs.Len())
}

func TestGormLoggerParamsFilterDropsValues(t *testing.T) {
	sql, params := NewGormLogger(DefaultGormLoggerConfig()).ParamsFilter(context.Background(), "UPDATE responses SET feedback = ?", "great essay")

	assert.Equal(t, "UPDATE responses SET feedback = ?", sql)
	assert.Nil(t, params)
}
