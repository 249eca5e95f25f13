package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type recordingArchiver struct {
	cutoffs []time.Time
	err     error
}

func (r *recordingArchiver) ArchiveEvents(_ context.Context, before time.Time) (int64, error) {
	r.cutoffs = append(r.cutoffs, before)
	return 7, r.err
}

func TestArchiver_RunUsesRetention(t *testing.T) {
	now := time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)
	rec := &recordingArchiver{}
	a := NewArchiver(rec, 30*24*time.Hour, fixedClock(now), slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	require.Len(t, rec.cutoffs, 1)
	assert.Equal(t, now.Add(-30*24*time.Hour), rec.cutoffs[0])

	rec.err = errors.New("s3 down")
	_, err = a.Run(context.Background())
	assert.ErrorContains(t, err, "s3 down")
}

func TestArchiver_RunCronRejectsBadExpression(t *testing.T) {
	a := NewArchiver(&recordingArchiver{}, time.Hour, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, a.RunCron(context.Background(), "* * *"))
}

func TestArchiver_RunCronStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewArchiver(&recordingArchiver{}, time.Hour, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, a.RunCron(ctx, "0 3 * * *"))
}

func TestNextCronTime(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 17, 30, 0, time.UTC) // Wednesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2025, 1, 1, 10, 18, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC)},
		{"0 9-17/4 * * *", time.Date(2025, 1, 1, 13, 0, 0, 0, time.UTC)},
		{"30 2 1 * *", time.Date(2025, 2, 1, 2, 30, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)},
		{"5,45 10 * * *", time.Date(2025, 1, 1, 10, 45, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := nextCronTime(tt.expr, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 7",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
	} {
		_, err := parseCron(expr)
		assert.Error(t, err, expr)
	}
}
