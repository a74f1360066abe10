package imap

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/mail-digest/model"
	"github.com/dhcgn/mail-digest/stats"
)

type fakeSession struct {
	loginErr  error
	selectErr error
	searchErr error
	fetchErrs map[uint32]error

	all    []uint32
	unseen []uint32

	selected  string
	searched  []model.Filter
	fetched   []uint32
	loggedOut bool
	closed    bool
}

func (s *fakeSession) Login(username, password string) error {
	return s.loginErr
}

func (s *fakeSession) Select(mailbox string) error {
	s.selected = mailbox
	return s.selectErr
}

func (s *fakeSession) Search(filter model.Filter) ([]uint32, error) {
	s.searched = append(s.searched, filter)
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	if filter == model.FilterUnread {
		return s.unseen, nil
	}
	return s.all, nil
}

func (s *fakeSession) FetchHeader(seqNum uint32) ([]byte, error) {
	s.fetched = append(s.fetched, seqNum)
	if err := s.fetchErrs[seqNum]; err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("From: sender%d@example.org\r\nSubject: Message %d\r\nDate: day %d\r\n", seqNum, seqNum, seqNum)), nil
}

func (s *fakeSession) Logout() error {
	s.loggedOut = true
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func newTestReader(t *testing.T, session *fakeSession, recorder stats.Recorder) *Reader {
	t.Helper()
	dial := func(context.Context, Options) (Session, error) { return session, nil }
	r, err := NewReader(Options{Host: "imap.example.org", Port: 993, Username: "me", Password: "secret"}, dial, recorder, nil)
	require.NoError(t, err)
	return r
}

func subjects(records []model.EmailRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Subject
	}
	return out
}

func TestFetchNewestFirstWithinLimit(t *testing.T) {
	session := &fakeSession{all: []uint32{1, 2, 3, 4, 5, 6, 7}}
	collector := stats.NewCollector()
	r := newTestReader(t, session, collector)

	got := r.Fetch(context.Background(), 3, model.FilterAll)

	require.Len(t, got, 3)
	assert.Equal(t, []string{"Message 7", "Message 6", "Message 5"}, subjects(got))
	assert.Equal(t, model.EmailRecord{ID: "7", Sender: "sender7@example.org", Subject: "Message 7", Date: "day 7"}, got[0])
	assert.Equal(t, []uint32{7, 6, 5}, session.fetched)
	assert.Equal(t, "INBOX", session.selected)
	assert.True(t, session.loggedOut)
	assert.True(t, session.closed)

	summary := collector.Snapshot()
	assert.Equal(t, 7, summary.Matched)
	assert.Equal(t, 3, summary.Fetched)
}

func TestFetchUnreadUsesUnseenCriterion(t *testing.T) {
	session := &fakeSession{all: []uint32{1, 2, 3, 4}, unseen: []uint32{2, 4}}
	r := newTestReader(t, session, nil)

	got := r.Fetch(context.Background(), 20, model.FilterUnread)

	assert.Equal(t, []model.Filter{model.FilterUnread}, session.searched)
	assert.Equal(t, []string{"Message 4", "Message 2"}, subjects(got))
}

func TestFetchFewerMatchesThanLimit(t *testing.T) {
	session := &fakeSession{all: []uint32{3, 1, 2}}
	r := newTestReader(t, session, nil)

	got := r.Fetch(context.Background(), 20, model.FilterAll)

	assert.Equal(t, []string{"Message 3", "Message 2", "Message 1"}, subjects(got))
}

func TestFetchProtocolErrorsDegradeToEmpty(t *testing.T) {
	boom := errors.New("NO [AUTHENTICATIONFAILED] invalid credentials")
	tests := []struct {
		name    string
		session *fakeSession
	}{
		{name: "login", session: &fakeSession{loginErr: boom, all: []uint32{1}}},
		{name: "select", session: &fakeSession{selectErr: boom, all: []uint32{1}}},
		{name: "search", session: &fakeSession{searchErr: boom}},
		{name: "empty mailbox", session: &fakeSession{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := stats.NewCollector()
			r := newTestReader(t, tt.session, collector)

			got := r.Fetch(context.Background(), 20, model.FilterAll)

			assert.Empty(t, got)
			assert.Empty(t, tt.session.fetched)
			assert.True(t, tt.session.loggedOut, "session must be logged out")
			assert.True(t, tt.session.closed, "session must be closed")
			if tt.name != "empty mailbox" {
				assert.Equal(t, 1, collector.Snapshot().ProtocolErrors)
			}
		})
	}
}

func TestFetchDialError(t *testing.T) {
	collector := stats.NewCollector()
	dial := func(context.Context, Options) (Session, error) { return nil, errors.New("connection refused") }
	r, err := NewReader(Options{Host: "imap.example.org", Port: 993}, dial, collector, nil)
	require.NoError(t, err)

	got := r.Fetch(context.Background(), 5, model.FilterAll)

	assert.Empty(t, got)
	assert.Equal(t, 1, collector.Snapshot().ProtocolErrors)
}

func TestFetchSkipsMessagesThatFailToFetch(t *testing.T) {
	session := &fakeSession{
		all:       []uint32{1, 2, 3},
		fetchErrs: map[uint32]error{2: errors.New("BAD fetch")},
	}
	collector := stats.NewCollector()
	r := newTestReader(t, session, collector)

	got := r.Fetch(context.Background(), 3, model.FilterAll)

	assert.Equal(t, []string{"Message 3", "Message 1"}, subjects(got))
	assert.Equal(t, 1, collector.Snapshot().FetchFailed)
	assert.True(t, session.closed)
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	session := &fakeSession{all: []uint32{1, 2, 3}}
	r := newTestReader(t, session, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := r.Fetch(ctx, 3, model.FilterAll)

	assert.Empty(t, got)
	assert.Empty(t, session.fetched)
	assert.True(t, session.closed)
}

func TestLatest(t *testing.T) {
	ids := []uint32{4, 1, 9, 7, 3}
	assert.Equal(t, []uint32{9, 7, 4}, Latest(ids, 3))
	assert.Equal(t, []uint32{9, 7, 4, 3, 1}, Latest(ids, 10))
	assert.Nil(t, Latest(ids, 0))
	assert.Nil(t, Latest(nil, 5))
	assert.Equal(t, []uint32{4, 1, 9, 7, 3}, ids, "input must not be modified")
}

func TestNewReaderValidation(t *testing.T) {
	_, err := NewReader(Options{Port: 993}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewReader(Options{Host: "h"}, nil, nil, nil)
	assert.Error(t, err)
}

func TestOptionsLogValueHidesPassword(t *testing.T) {
	opts := Options{Host: "imap.example.org", Port: 993, Username: "me", Password: "hunter2", UseTLS: true}
	assert.NotContains(t, opts.LogValue().String(), "hunter2")
	assert.Contains(t, opts.LogValue().String(), "imap.example.org:993")
}
