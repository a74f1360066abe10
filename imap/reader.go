// Package imap reads message metadata from an IMAP mailbox.
package imap

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/dhcgn/mail-digest/message"
	"github.com/dhcgn/mail-digest/model"
	"github.com/dhcgn/mail-digest/stats"
)

// Options describes the server, the account and the mailbox to read.
// Mailbox defaults to INBOX.
type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string
}

func (o Options) mailbox() string {
	if o.Mailbox == "" {
		return "INBOX"
	}
	return o.Mailbox
}

// Reader fetches the most recent messages matching a filter. Every call opens
// one session and closes it before returning.
type Reader struct {
	opts     Options
	dial     Dialer
	recorder stats.Recorder
	logger   *slog.Logger
}

// NewReader returns a Reader. A nil dial uses Dial; a nil recorder discards
// events.
func NewReader(opts Options, dial Dialer, recorder stats.Recorder, logger *slog.Logger) (*Reader, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if dial == nil {
		dial = Dial
	}
	if recorder == nil {
		recorder = stats.Discard
	}
	return &Reader{
		opts:     opts,
		dial:     dial,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Fetch returns up to limit records matching filter, newest first. Protocol
// failures are logged and yield an empty result.
func (r *Reader) Fetch(ctx context.Context, limit int, filter model.Filter) []model.EmailRecord {
	r.debug("connecting to imap", "server", r.opts)

	session, err := r.dial(ctx, r.opts)
	if err != nil {
		r.protocolError("imap connect failed", err)
		return nil
	}
	defer r.closeSession(session)

	if err := session.Login(r.opts.Username, r.opts.Password); err != nil {
		r.protocolError("imap login failed; check the address, app password and IMAP settings", err)
		return nil
	}

	mailbox := r.opts.mailbox()
	if err := session.Select(mailbox); err != nil {
		r.protocolError("imap select failed", err, "mailbox", mailbox)
		return nil
	}

	if r.logger != nil {
		r.logger.Info("searching mailbox", "mailbox", mailbox, "criteria", filter.SearchKey())
	}
	ids, err := session.Search(filter)
	if err != nil {
		r.protocolError("imap search failed", err, "criteria", filter.SearchKey())
		return nil
	}
	r.recorder.Record(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeMatched, Count: len(ids)})

	if len(ids) == 0 {
		if r.logger != nil {
			r.logger.Info("no messages match the filter", "criteria", filter.SearchKey())
		}
		return nil
	}

	selected := Latest(ids, limit)
	records := make([]model.EmailRecord, 0, len(selected))
	for _, seqNum := range selected {
		if err := ctx.Err(); err != nil {
			r.protocolError("imap fetch interrupted", err)
			return records
		}

		id := strconv.FormatUint(uint64(seqNum), 10)
		raw, err := session.FetchHeader(seqNum)
		if err != nil {
			r.recorder.Record(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeFetchFailed, MessageID: id, Err: err})
			if r.logger != nil {
				r.logger.Warn("imap fetch failed, skipping message", "id", id, "err", err)
			}
			continue
		}

		records = append(records, message.Normalize(id, raw))
		r.recorder.Record(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeFetched, MessageID: id})
	}

	r.debug("fetched messages", "matched", len(ids), "fetched", len(records))
	return records
}

// Latest returns the limit highest identifiers of ids, highest first. ids is
// not modified.
func Latest(ids []uint32, limit int) []uint32 {
	if limit <= 0 || len(ids) == 0 {
		return nil
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	if len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	slices.Reverse(sorted)
	return sorted
}

func (r *Reader) closeSession(session Session) {
	if err := session.Logout(); err != nil {
		r.debug("imap logout failed", "err", err)
	}
	if err := session.Close(); err != nil {
		r.debug("imap close failed", "err", err)
	}
}

func (r *Reader) protocolError(msg string, err error, attrs ...any) {
	r.recorder.Record(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeProtocolError, Err: err})
	if r.logger != nil {
		r.logger.Error(msg, append(attrs, "err", err)...)
	}
}

func (r *Reader) debug(msg string, attrs ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, attrs...)
	}
}
