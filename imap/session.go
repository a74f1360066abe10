package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mail-digest/model"
)

// Session is the slice of the IMAP protocol the reader needs.
type Session interface {
	Login(username, password string) error
	Select(mailbox string) error
	Search(filter model.Filter) ([]uint32, error)
	FetchHeader(seqNum uint32) ([]byte, error)
	Logout() error
	Close() error
}

// Dialer opens a connection to the server described by opts.
type Dialer func(ctx context.Context, opts Options) (Session, error)

type clientSession struct {
	client    *imapclient.Client
	stopClose func() bool
}

// Dial connects with go-imap. The connection is closed early if ctx is
// cancelled while the session is in use.
func Dial(ctx context.Context, opts Options) (Session, error) {
	address := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	options := &imapclient.Options{}

	if opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         opts.Host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	return &clientSession{client: client, stopClose: stopClose}, nil
}

func (s *clientSession) Login(username, password string) error {
	return s.client.Login(username, password).Wait()
}

func (s *clientSession) Select(mailbox string) error {
	_, err := s.client.Select(mailbox, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	return err
}

func (s *clientSession) Search(filter model.Filter) ([]uint32, error) {
	data, err := s.client.Search(searchCriteria(filter), nil).Wait()
	if err != nil {
		return nil, err
	}
	return data.AllSeqNums(), nil
}

// FetchHeader reads BODY.PEEK[HEADER] so the message keeps its \Seen state.
func (s *clientSession) FetchHeader(seqNum uint32) ([]byte, error) {
	section := &imapv2.FetchItemBodySection{
		Specifier: imapv2.PartSpecifierHeader,
		Peek:      true,
	}
	fetchOpts := &imapv2.FetchOptions{
		BodySection: []*imapv2.FetchItemBodySection{section},
	}

	buffers, err := s.client.Fetch(imapv2.SeqSetNum(seqNum), fetchOpts).Collect()
	if err != nil {
		return nil, err
	}
	if len(buffers) == 0 {
		return nil, fmt.Errorf("message %d not found", seqNum)
	}
	return buffers[0].FindBodySection(section), nil
}

func (s *clientSession) Logout() error {
	return s.client.Logout().Wait()
}

func (s *clientSession) Close() error {
	s.stopClose()
	return s.client.Close()
}

func searchCriteria(filter model.Filter) *imapv2.SearchCriteria {
	if filter == model.FilterUnread {
		return &imapv2.SearchCriteria{NotFlag: []imapv2.Flag{imapv2.FlagSeen}}
	}
	return &imapv2.SearchCriteria{}
}

// LogValue keeps credentials out of logs.
func (o Options) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("address", net.JoinHostPort(o.Host, strconv.Itoa(o.Port))),
		slog.String("user", o.Username),
		slog.Bool("tls", o.UseTLS),
		slog.String("mailbox", o.mailbox()),
	)
}
