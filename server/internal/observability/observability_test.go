package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFromCarriesRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	reqCtx := NewRequestContextWithID(logger, "req-1", StageChat, 42)
	ctx := WithRequestContext(context.Background(), reqCtx)

	LoggerFrom(ctx, StageRetrieval).Info("searching")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry[LogFieldRequestID])
	assert.EqualValues(t, 42, entry[LogFieldUserID])
	assert.Equal(t, StageRetrieval, entry[LogFieldStage])
	assert.Equal(t, StageChat, reqCtx.Stage, "the original context is not modified")
}

func TestLoggerFromWithoutRequestContext(t *testing.T) {
	assert.NotNil(t, LoggerFrom(context.Background(), StageSummary))
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestNewRequestContextGeneratesID(t *testing.T) {
	a := NewRequestContext(nil, StageChat, 1)
	b := NewRequestContext(nil, StageChat, 1)
	assert.NotEmpty(t, a.RequestID)
	assert.NotEqual(t, a.RequestID, b.RequestID)
	assert.NotNil(t, a.Logger)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.Record(StageRetrieval, 100*time.Millisecond, nil)
	m.Record(StageRetrieval, 300*time.Millisecond, errors.New("boom"))
	m.Record(StageSummary, 50*time.Millisecond, nil)

	snap := m.Snapshot()
	assert.EqualValues(t, 3, snap.RequestTotal)
	assert.EqualValues(t, 1, snap.RequestFailed)
	require.Contains(t, snap.Stages, StageRetrieval)
	assert.EqualValues(t, 2, snap.Stages[StageRetrieval].ExecutionCount)
	assert.EqualValues(t, 200, snap.Stages[StageRetrieval].AverageDuration)
	assert.EqualValues(t, 1, snap.Stages[StageRetrieval].ErrorCount)
	assert.InDelta(t, 66.67, snap.SuccessRate(), 0.01)

	m.Reset()
	assert.EqualValues(t, 0, m.Snapshot().RequestTotal)
	assert.Equal(t, 100.0, m.Snapshot().SuccessRate())
}
