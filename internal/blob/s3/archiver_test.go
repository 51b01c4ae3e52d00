package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/deedmarket/deedmarket/internal/domain"
	"github.com/deedmarket/deedmarket/internal/store/memory"
)

type captureWriter struct {
	path string
	body []byte
	ct   string
}

func (w *captureWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	w.path = path
	w.ct = contentType
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	w.body = buf.Bytes()
	return nil
}

func (w *captureWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

func TestArchiveEvents(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	events := mem.Events()

	for i := 0; i < 3; i++ {
		if err := events.Append(ctx, domain.EventMinted, map[string]any{"n": i}); err != nil {
			t.Fatal(err)
		}
	}

	w := &captureWriter{}
	a := NewArchiver(w, events, slog.New(slog.NewTextHandler(io.Discard, nil)))

	cutoff := time.Now().Add(time.Minute)
	n, err := a.ArchiveEvents(ctx, cutoff)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 3 {
		t.Fatalf("archived = %d, want 3", n)
	}
	if want := "archive/events/" + cutoff.Format("2006-01") + ".jsonl"; w.path != want {
		t.Fatalf("path = %q, want %q", w.path, want)
	}
	if w.ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", w.ct)
	}
	lines := strings.Split(strings.TrimSpace(string(w.body)), "\n")
	if len(lines) != 3 {
		t.Fatalf("jsonl lines = %d, want 3", len(lines))
	}
}

func TestArchiveEvents_EmptyWindow(t *testing.T) {
	mem := memory.New()
	w := &captureWriter{}
	a := NewArchiver(w, mem.Events(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveEvents(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("archived = %d, want 0", n)
	}
	if w.path != "" {
		t.Fatal("upload happened for empty window")
	}
}
