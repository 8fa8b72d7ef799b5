//go:build !integration

package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/trialsync/internal/model"
)

func ptrTime(t time.Time) *time.Time { return &t }

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Source:      "update",
			Status:      model.RunStatusComplete,
			StartedAt:   now,
			CompletedAt: ptrTime(now.Add(2 * time.Minute)),
			Summary:     &model.RunSummary{Created: 3, Updated: 7},
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Source:    "csv",
			Status:    model.RunStatusRunning,
			StartedAt: now.Add(-1 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs, now)

	output := buf.String()
	assert.Contains(t, output, "SOURCE")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "update")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "1h0m0s")
	assert.Contains(t, output, "2025-06-15 10:30")
}

func TestFormatRunsList_FailedRun(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			Source:      "dir",
			Status:      model.RunStatusFailed,
			StartedAt:   now,
			CompletedAt: ptrTime(now.Add(30 * time.Second)),
			Error:       "ingest: check existing: database is locked",
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs, now)

	output := buf.String()
	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "database is locked")
}

func TestRunsStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	runs := []model.Run{
		{
			ID:          "1",
			Status:      model.RunStatusComplete,
			StartedAt:   now,
			CompletedAt: ptrTime(now.Add(2 * time.Minute)),
			Summary:     &model.RunSummary{Created: 2, Updated: 5, Skipped: 1},
		},
		{
			ID:          "2",
			Status:      model.RunStatusComplete,
			StartedAt:   now.Add(5 * time.Minute),
			CompletedAt: ptrTime(now.Add(8 * time.Minute)),
			Summary:     &model.RunSummary{Updated: 4},
		},
		{
			ID:          "3",
			Status:      model.RunStatusFailed,
			StartedAt:   now.Add(10 * time.Minute),
			CompletedAt: ptrTime(now.Add(10*time.Minute + 30*time.Second)),
			Error:       "timeout",
		},
		{
			ID:        "4",
			Status:    model.RunStatusRunning,
			StartedAt: now.Add(15 * time.Minute),
		},
	}

	stats := computeRunStats(runs)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Complete)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 9, stats.Updated)
	assert.Equal(t, 1, stats.Skipped)
	// Average duration of the 2 complete runs: (120s + 180s) / 2 = 150s.
	assert.InDelta(t, 150.0, stats.AvgDurSecs, 0.1)

	var buf bytes.Buffer
	formatRunStats(&buf, stats)

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "Trials updated:")
	assert.Contains(t, output, "9")
	assert.Contains(t, output, "150.0s")
}

func TestFindRun(t *testing.T) {
	runs := []model.Run{
		{ID: "abc12345-0000"},
		{ID: "abd99999-0000"},
	}

	r, err := findRun(runs, "abc12345-0000")
	require.NoError(t, err)
	assert.Equal(t, "abc12345-0000", r.ID)

	r, err = findRun(runs, "abd")
	require.NoError(t, err)
	assert.Equal(t, "abd99999-0000", r.ID)

	_, err = findRun(runs, "ab")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = findRun(runs, "zzz")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestRunsSince(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{ID: "old", StartedAt: now.Add(-48 * time.Hour)},
		{ID: "new", StartedAt: now.Add(-time.Hour)},
	}
	got := runsSince(runs, now.Add(-24*time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
