package sysstats

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectReportsHostMemory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := Collect(context.Background(), logger, t.TempDir())

	assert.Greater(t, s.RAMTotalMB, 0.0)
	assert.LessOrEqual(t, s.RAMUsedMB, s.RAMTotalMB)
	assert.Greater(t, s.ProcessRSSMB, 0.0)
	assert.GreaterOrEqual(t, s.CPUPercent, 0.0)
}
