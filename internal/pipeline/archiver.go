// Package pipeline runs the background jobs: the scheduled audit-log
// archiver and the Polymarket market importer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polyoracle/internal/domain"
)

// Archiver periodically exports the audit event log to cold storage.
type Archiver struct {
	blobArchiver domain.Archiver
	retention    time.Duration
	clock        domain.Clock
	logger       *slog.Logger
}

// NewArchiver creates an Archiver that exports events older than retention.
func NewArchiver(blobArchiver domain.Archiver, retention time.Duration, clock domain.Clock, logger *slog.Logger) *Archiver {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Archiver{
		blobArchiver: blobArchiver,
		retention:    retention,
		clock:        clock,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive run and returns the number of events
// exported.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := a.clock.Now().UTC().Add(-a.retention)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	n, err := a.blobArchiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pipeline: archiving events before %v: %w", cutoff, err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("events_archived", n))
	return n, nil
}

// RunCron runs the archiver on a 5-field cron schedule until ctx is
// cancelled. A failed run is logged and the schedule continues.
//
// Example: "0 3 * * *" runs at 03:00 UTC every day.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	if _, err := parseCron(cronExpr); err != nil {
		return fmt.Errorf("pipeline: parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		now := a.clock.Now().UTC()
		next, err := nextCronTime(cronExpr, now)
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}

		wait := next.Sub(now)
		a.logger.DebugContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.InfoContext(ctx, "archiver cron stopped")
			return nil
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField is one parsed field of a cron expression.
type cronField struct {
	wildcard bool
	values   map[int]bool
}

func (f cronField) matches(val int) bool {
	return f.wildcard || f.values[val]
}

// parseCronField accepts "*", "*/n", "a", "a/n", "a-b", "a-b/n" and comma
// lists of those, with every value inside [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	values := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		rng, step := part, 1
		r, s, stepped := strings.Cut(part, "/")
		if stepped {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step in %q", part)
			}
			rng, step = r, n
		}

		from, to := lo, hi
		if rng != "*" {
			a, b, isRange := strings.Cut(rng, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			to = from
			if stepped && !isRange {
				to = hi
			}
			if isRange {
				if to, err = strconv.Atoi(b); err != nil {
					return cronField{}, fmt.Errorf("invalid cron field value %q: %w", part, err)
				}
			}
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("cron value %q outside %d-%d", part, lo, hi)
		}
		for v := from; v <= to; v += step {
			values[v] = true
		}
	}
	return cronField{values: values}, nil
}

type parsedCron [5]cronField

var cronBounds = [5]struct {
	name   string
	lo, hi int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

func (c parsedCron) matchesTime(t time.Time) bool {
	return c[0].matches(t.Minute()) &&
		c[1].matches(t.Hour()) &&
		c[2].matches(t.Day()) &&
		c[3].matches(int(t.Month())) &&
		c[4].matches(int(t.Weekday()))
}

// parseCron parses "minute hour day-of-month month day-of-week".
func parseCron(expr string) (parsedCron, error) {
	var c parsedCron
	fields := strings.Fields(expr)
	if len(fields) != len(c) {
		return c, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	for i, f := range fields {
		b := cronBounds[i]
		field, err := parseCronField(f, b.lo, b.hi)
		if err != nil {
			return c, fmt.Errorf("parsing %s field: %w", b.name, err)
		}
		c[i] = field
	}
	return c, nil
}

// nextCronTime returns the first minute strictly after 'after' matching
// cronExpr, searching at most a year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
