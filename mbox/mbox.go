// Package mbox reads message metadata from a local mbox archive, offering the
// same contract as the IMAP reader for offline runs.
package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mail-digest/message"
	"github.com/dhcgn/mail-digest/model"
	"github.com/dhcgn/mail-digest/stats"
)

// Options points the reader at an mbox file.
type Options struct {
	Path string
}

// Reader treats each message's 1-based position in the file as its
// identifier, so later messages count as more recent.
type Reader struct {
	path     string
	recorder stats.Recorder
	logger   *slog.Logger
}

type entry struct {
	id     string
	header []byte
}

// NewReader returns a Reader for opts.Path. The file is opened on each Fetch,
// not here. A nil recorder discards events.
func NewReader(opts Options, recorder stats.Recorder, logger *slog.Logger) (*Reader, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if recorder == nil {
		recorder = stats.Discard
	}
	return &Reader{path: path, recorder: recorder, logger: logger}, nil
}

// Fetch returns up to limit records matching filter, newest first. Read
// errors are logged and yield an empty result.
func (r *Reader) Fetch(ctx context.Context, limit int, filter model.Filter) []model.EmailRecord {
	entries, err := r.scan(ctx, filter)
	if err != nil {
		r.recorder.Record(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeProtocolError, Err: err})
		if r.logger != nil {
			r.logger.Error("mbox read failed", "path", r.path, "err", err)
		}
		return nil
	}
	r.recorder.Record(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeMatched, Count: len(entries)})

	if limit <= 0 || len(entries) == 0 {
		if r.logger != nil {
			r.logger.Info("no messages match the filter", "path", r.path, "filter", string(filter))
		}
		return nil
	}

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	slices.Reverse(entries)

	records := make([]model.EmailRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, message.Normalize(e.id, e.header))
		r.recorder.Record(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeFetched, MessageID: e.id})
	}
	return records
}

func (r *Reader) scan(ctx context.Context, filter model.Filter) ([]entry, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)

	var entries []entry
	for idx := 1; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return nil, fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("message %d read: %w", idx, err)
		}

		header, _ := splitRawMessage(raw)
		if filter == model.FilterUnread && isRead(header) {
			continue
		}
		entries = append(entries, entry{id: strconv.Itoa(idx), header: header})
	}
}

// isRead reports whether the mbox Status header carries the R flag.
func isRead(header []byte) bool {
	h, _ := message.ParseHeader(header)
	return strings.ContainsRune(h.Get("Status"), 'R')
}

func splitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}

	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}

	return raw, nil
}
