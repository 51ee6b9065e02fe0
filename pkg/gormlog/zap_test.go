package gormlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

func TestShortCaller(t *testing.T) {
	assert.Equal(t, "internal/platform/db/db.go:38", shortCaller("/home/ci/src/internal/platform/db/db.go:38"))
	assert.Equal(t, "a/b/c.go:1", shortCaller("/x/y/a/b/c.go:1"))
	assert.Equal(t, "", shortCaller(""))
}

func TestNew_Options(t *testing.T) {
	l := New(zap.NewNop().Sugar(), WithLevel("info"), WithSlowThreshold(0))
	assert.Equal(t, gormlogger.Info, l.config.LogLevel)
	assert.NotZero(t, l.config.SlowThreshold)

	l = New(zap.NewNop().Sugar(), WithLevel("bogus"))
	assert.Equal(t, gormlogger.Warn, l.config.LogLevel)
}
