package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aoikurokawa/zone/internal/domain"
)

// ArchiveRecorder receives archive counts.
type ArchiveRecorder interface {
	Archived(kind string, n int64)
}

// ArchiveJob copies each finished UTC day of settlements and audit entries to
// cold storage on a cron schedule.
type ArchiveJob struct {
	archiver domain.Archiver
	schedule Schedule
	recorder ArchiveRecorder
	now      func() time.Time
	logger   *slog.Logger
}

// NewArchiveJob parses cronExpr and returns a job ready to Run.
func NewArchiveJob(archiver domain.Archiver, cronExpr string, logger *slog.Logger) (*ArchiveJob, error) {
	sched, err := ParseSchedule(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return &ArchiveJob{
		archiver: archiver,
		schedule: sched,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "archive")),
	}, nil
}

// WithRecorder reports archived record counts to r.
func (j *ArchiveJob) WithRecorder(r ArchiveRecorder) *ArchiveJob {
	j.recorder = r
	return j
}

// ArchiveDay archives both kinds for day. Both are attempted even when the
// first fails.
func (j *ArchiveJob) ArchiveDay(ctx context.Context, day time.Time) error {
	j.logger.InfoContext(ctx, "archive: run", slog.String("day", day.UTC().Format(time.DateOnly)))

	preds, errPreds := j.archiver.ArchiveSettled(ctx, day)
	if errPreds != nil {
		errPreds = fmt.Errorf("archive settled predictions: %w", errPreds)
	}
	audit, errAudit := j.archiver.ArchiveAudit(ctx, day)
	if errAudit != nil {
		errAudit = fmt.Errorf("archive audit log: %w", errAudit)
	}

	if j.recorder != nil {
		j.recorder.Archived("predictions", preds)
		j.recorder.Archived("audit", audit)
	}
	j.logger.InfoContext(ctx, "archive: run complete",
		slog.Int64("predictions", preds),
		slog.Int64("audit", audit),
	)
	return errors.Join(errPreds, errAudit)
}

// Run archives the previous UTC day at every schedule tick until ctx is
// cancelled.
func (j *ArchiveJob) Run(ctx context.Context) error {
	j.logger.InfoContext(ctx, "archive: cron started", slog.String("cron", j.schedule.String()))
	for {
		next := j.schedule.Next(j.now())
		if next.IsZero() {
			return fmt.Errorf("archive: cron %q never fires", j.schedule)
		}
		wait := next.Sub(j.now())
		j.logger.DebugContext(ctx, "archive: waiting", slog.Time("next_run", next), slog.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := j.ArchiveDay(ctx, next.AddDate(0, 0, -1)); err != nil {
				j.logger.ErrorContext(ctx, "archive: run failed", slog.String("error", err.Error()))
			}
		}
	}
}
