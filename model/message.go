package model

import (
	"fmt"
	"strings"
)

// EmailRecord is the metadata-only view of one fetched message. It carries no
// body: only the sender, subject and date ever reach the prompt.
type EmailRecord struct {
	ID      string
	Sender  string
	Subject string
	Date    string // raw Date header, not parsed
}

// Filter selects which messages a mailbox reader considers.
type Filter string

const (
	FilterAll    Filter = "all"
	FilterUnread Filter = "unread"
)

// ParseFilter validates a user supplied filter name.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterAll, FilterUnread:
		return f, nil
	default:
		return "", fmt.Errorf("invalid filter %q: must be %q or %q", s, FilterAll, FilterUnread)
	}
}

// SearchKey returns the IMAP search key matching the filter.
func (f Filter) SearchKey() string {
	if f == FilterUnread {
		return "UNSEEN"
	}
	return "ALL"
}
