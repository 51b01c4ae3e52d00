package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/deedmarket/deedmarket/internal/domain"
)

// EventArchiveStore provides the read access the archiver needs: every
// event recorded strictly before a cutoff, oldest first.
type EventArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error)
}

// Archiver implements domain.Archiver by querying the exchange event log
// for records older than the cutoff, serializing them to JSONL, and
// uploading the result to object storage.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step to be executed after
// the archive has been verified.
type Archiver struct {
	writer domain.BlobWriter
	events EventArchiveStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing through writer.
func NewArchiver(writer domain.BlobWriter, events EventArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		events: events,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveEvents uploads every event recorded before the cutoff to
// archive/events/YYYY-MM.jsonl and returns the number of records archived.
// An empty window uploads nothing.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath("events", before)
	if err := a.upload(ctx, path, buf); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	a.logger.InfoContext(ctx, "events archived",
		slog.String("path", path),
		slog.Int("count", len(events)),
		slog.Time("before", before),
	)
	return len(events), nil
}

// multipartThreshold is the payload size above which archive uploads switch
// from a single PutObject to a multipart upload.
const multipartThreshold = 64 * 1024 * 1024

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) > multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/events/2026-08.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON, one
// compact line per record.
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
