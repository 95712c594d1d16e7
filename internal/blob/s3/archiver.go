package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aoikurokawa/zone/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// SettledSource lists predictions settled in [from, to) unix seconds.
type SettledSource interface {
	ListSettled(ctx context.Context, from, to int64) ([]domain.Prediction, error)
}

// Archiver implements domain.Archiver. Each call covers one UTC day and
// writes it as a single JSONL object. An object that already exists is left
// alone, so re-running a day is a no-op.
//
// Archived rows are not deleted from the primary store.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	settled SettledSource
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	settled SettledSource,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:  writer,
		reader:  reader,
		settled: settled,
		audit:   audit,
		logger:  logger,
	}
}

// ArchiveSettled uploads predictions settled during day to
// archive/predictions/YYYY-MM-DD.jsonl and returns how many were written.
func (a *Archiver) ArchiveSettled(ctx context.Context, day time.Time) (int64, error) {
	from, to := dayBounds(day)
	path := ArchivePath("predictions", from)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, err
	}
	if exists {
		a.logger.DebugContext(ctx, "archive object exists", slog.String("path", path))
		return 0, nil
	}

	preds, err := a.settled.ListSettled(ctx, from.Unix(), to.Unix())
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive predictions query: %w", err)
	}
	return upload(ctx, a, "predictions", path, preds)
}

// ArchiveAudit uploads audit entries recorded during day to
// archive/audit/YYYY-MM-DD.jsonl.
func (a *Archiver) ArchiveAudit(ctx context.Context, day time.Time) (int64, error) {
	from, to := dayBounds(day)
	path := ArchivePath("audit", from)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, err
	}
	if exists {
		a.logger.DebugContext(ctx, "archive object exists", slog.String("path", path))
		return 0, nil
	}

	until := to.Add(-time.Nanosecond)
	entries, err := a.audit.List(ctx, domain.ListOpts{Since: &from, Until: &until})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	// The store lists newest first; the archive reads oldest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return upload(ctx, a, "audit", path, entries)
}

func upload[T any](ctx context.Context, a *Archiver, kind, path string, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":  path,
		"count": count,
		"bytes": len(buf),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	a.logger.InfoContext(ctx, "archived",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// ArchivePath is the object key for one kind and UTC day:
//
//	archive/predictions/2025-01-31.jsonl
//	archive/audit/2025-01-31.jsonl
func ArchivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day.UTC().Format(time.DateOnly))
}

// dayBounds returns the UTC midnight starting day and the next one.
func dayBounds(day time.Time) (time.Time, time.Time) {
	d := day.UTC()
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1)
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
