package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ClareAI/astra-call-control/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestGORMLoggerWritesThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := logger.SetForTest(zap.New(core))
	defer restore()

	l := newGORMLogger()
	ctx := context.Background()
	query := func() (string, int64) { return "SELECT * FROM orchestration_failures", 3 }

	l.Trace(ctx, time.Now(), query, nil)
	assert.Zero(t, logs.Len(), "fast successful queries stay quiet at warn level")

	l.Trace(ctx, time.Now(), query, gorm.ErrRecordNotFound)
	assert.Zero(t, logs.Len())

	l.Trace(ctx, time.Now().Add(-2*slowQueryThreshold), query, nil)
	slow := logs.TakeAll()
	require.Len(t, slow, 1)
	assert.Equal(t, zapcore.WarnLevel, slow[0].Level)
	assert.Contains(t, slow[0].Message, "SLOW SQL")

	l.Trace(ctx, time.Now(), query, errors.New("relation does not exist"))
	failed := logs.TakeAll()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
	assert.Contains(t, failed[0].Message, "relation does not exist")

	l.Info(ctx, "connected")
	assert.Zero(t, logs.Len())
}
