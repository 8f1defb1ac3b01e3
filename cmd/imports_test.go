//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gridscope/elexon-pipeline/internal/model"
)

func TestFormatImports(t *testing.T) {
	started := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	runs := []model.ImportRecord{
		{
			RunID:        "aabbccdd-1111-2222-3333-444455556666",
			RangeStart:   time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			RangeEnd:     time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
			Status:       model.ImportPartial,
			TotalWindows: 5,
			Succeeded:    4,
			Failed:       1,
			RecordsTotal: 6048,
			StartedAt:    started,
			FinishedAt:   started.Add(92 * time.Second),
		},
		{
			RunID:        "99887766-0000-0000-0000-000000000000",
			RangeStart:   time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
			RangeEnd:     time.Date(2023, 2, 8, 0, 0, 0, 0, time.UTC),
			Status:       model.ImportRunning,
			TotalWindows: 1,
			StartedAt:    started,
		},
	}

	var buf bytes.Buffer
	formatImports(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "DURATION")
	assert.Contains(t, out, "aabbccdd")
	assert.NotContains(t, out, "aabbccdd-1111")
	assert.Contains(t, out, "2023-01-01..2023-02-01")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "6048")
	assert.Contains(t, out, "2024-02-01 09:00")
	assert.Contains(t, out, "1m32s")
	// A running import has no finish time yet.
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "09:00  -")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "aabbccdd", truncateID("aabbccdd-1111-2222-3333-444455556666"))
	assert.Equal(t, "short", truncateID("short"))
}
