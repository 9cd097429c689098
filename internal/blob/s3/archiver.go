package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// archiveContentType marks the JSONL archives for downstream tooling.
const archiveContentType = "application/x-ndjson"

// multipartThreshold is the payload size above which an archive pass goes
// through the multipart upload manager.
const multipartThreshold = 8 * 1024 * 1024

// Archiver moves aged profit-audit events out of the primary store into S3
// cold storage as JSONL. Trail rows are deleted only after the uploaded
// object has been read back intact, so a failed upload costs a retry, never
// audit history.
type Archiver struct {
	writer        *Writer
	reader        *Reader
	audit         domain.AuditStore
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates an archiver keeping retentionDays of audit history hot.
func NewArchiver(writer *Writer, reader *Reader, audit domain.AuditStore, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:        writer,
		reader:        reader,
		audit:         audit,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes one archive pass and returns the number of events moved.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)

	events, err := a.audit.ListProfitBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath("audit_profit", cutoff)
	if present, err := a.reader.Exists(ctx, path); err != nil {
		return 0, fmt.Errorf("s3blob: archive precheck: %w", err)
	} else if present {
		return 0, fmt.Errorf("s3blob: archive target %s already exists", path)
	}

	if int64(len(buf)) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), archiveContentType, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	if err := a.verify(ctx, path, int64(len(buf))); err != nil {
		return 0, err
	}

	deleted, err := a.audit.DeleteProfitBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive delete after upload to %s: %w", path, err)
	}

	a.logger.Info("audit events archived",
		slog.String("path", path),
		slog.Int64("count", deleted),
		slog.Time("cutoff", cutoff))
	return deleted, nil
}

// verify reads the uploaded object back and checks its length against the
// bytes sent.
func (a *Archiver) verify(ctx context.Context, path string, size int64) error {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive verify %s: %w", path, err)
	}
	defer body.Close()

	n, err := io.Copy(io.Discard, body)
	if err != nil {
		return fmt.Errorf("s3blob: archive verify %s: %w", path, err)
	}
	if n != size {
		return fmt.Errorf("s3blob: archive verify %s: stored %d bytes, want %d", path, n, size)
	}
	return nil
}

// RunLoop runs archive passes at the given interval until ctx is cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archivePath builds the S3 key for one pass: partitioned by the cutoff's
// year-month with a full-timestamp leaf, so repeated passes within a month
// never collide.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, before.Format("2006-01"), before.Format("20060102T150405Z"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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
