// Package imap implements the MailSource port on IMAP4rev2 via TLS.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"mailwatch/core/port/out"
)

// Client is a single-connection IMAP mail source. Not safe for
// concurrent use; the poller serializes access per mailbox.
type Client struct {
	addr     string
	username string
	password string
	mailbox  string
	timeout  time.Duration
	log      zerolog.Logger

	clt *imapclient.Client
}

type Config struct {
	Addr     string // host:port, implicit TLS
	Username string
	Password string
	Mailbox  string // defaults to INBOX
	Timeout  time.Duration
	Logger   zerolog.Logger
}

func New(cfg Config) *Client {
	mailbox := cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		addr:     cfg.Addr,
		username: cfg.Username,
		password: cfg.Password,
		mailbox:  mailbox,
		timeout:  timeout,
		log:      cfg.Logger,
	}
}

// awaitCmd bounds a blocking IMAP command with ctx and the client
// timeout. Commands have no native cancellation, so on expiry the
// connection is closed to unblock the pending Wait and the next tick
// reconnects.
func awaitCmd(ctx context.Context, timeout time.Duration, clt *imapclient.Client, op string, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if clt != nil {
			clt.Close()
		}
		return fmt.Errorf("imap %s: %w", op, ctx.Err())
	}
}

// Connect dials, authenticates and selects the mailbox read-only.
func (c *Client) Connect(ctx context.Context) (*out.MailboxState, error) {
	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", c.addr, nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", c.addr, err)
	}
	clt := imapclient.New(conn, &imapclient.Options{})

	if err := awaitCmd(ctx, c.timeout, clt, "login", func() error {
		return clt.Login(c.username, c.password).Wait()
	}); err != nil {
		clt.Close()
		return nil, err
	}

	var sel *imap.SelectData
	if err := awaitCmd(ctx, c.timeout, clt, "select", func() error {
		var err error
		sel, err = clt.Select(c.mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
		return err
	}); err != nil {
		clt.Close()
		return nil, err
	}

	c.clt = clt
	c.log.Debug().
		Str("mailbox", c.mailbox).
		Uint32("uid_validity", sel.UIDValidity).
		Uint32("num_messages", sel.NumMessages).
		Msg("mailbox selected")

	return &out.MailboxState{
		UIDValidity: sel.UIDValidity,
		UIDNext:     uint32(sel.UIDNext),
		NumMessages: sel.NumMessages,
	}, nil
}

// SearchSince returns UIDs of messages received on or after since.
func (c *Client) SearchSince(ctx context.Context, since time.Time) ([]uint32, error) {
	var data *imap.SearchData
	if err := awaitCmd(ctx, c.timeout, c.clt, "uid search since", func() error {
		var err error
		data, err = c.clt.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
		return err
	}); err != nil {
		return nil, err
	}
	return uidsOf(data.AllUIDs()), nil
}

// SearchAfterUID returns UIDs strictly greater than lastUID.
func (c *Client) SearchAfterUID(ctx context.Context, lastUID uint32) ([]uint32, error) {
	var set imap.UIDSet
	set.AddRange(imap.UID(lastUID+1), 0)

	var data *imap.SearchData
	if err := awaitCmd(ctx, c.timeout, c.clt, "uid search after", func() error {
		var err error
		data, err = c.clt.UIDSearch(&imap.SearchCriteria{
			UID: []imap.UIDSet{set},
		}, nil).Wait()
		return err
	}); err != nil {
		return nil, err
	}
	// Servers treat n+1:* as matching the highest existing UID even when
	// it is <= lastUID, so filter below the watermark explicitly.
	var uids []uint32
	for _, uid := range data.AllUIDs() {
		if uint32(uid) > lastUID {
			uids = append(uids, uint32(uid))
		}
	}
	return uids, nil
}

// Fetch retrieves envelope and full raw body for up to limit UIDs.
func (c *Client) Fetch(ctx context.Context, uids []uint32, limit int) ([]*out.MailMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	var set imap.UIDSet
	for _, uid := range uids {
		set.AddNum(imap.UID(uid))
	}

	var msgs []*out.MailMessage
	if err := awaitCmd(ctx, c.timeout, c.clt, "fetch", func() error {
		fetchCmd := c.clt.Fetch(set, &imap.FetchOptions{
			UID:      true,
			Envelope: true,
			BodySection: []*imap.FetchItemBodySection{
				{Peek: true},
			},
		})

		for {
			msgData := fetchCmd.Next()
			if msgData == nil {
				break
			}
			msg, err := msgData.Collect()
			if err != nil {
				fetchCmd.Close()
				return fmt.Errorf("imap fetch collect: %w", err)
			}

			m := &out.MailMessage{UID: uint32(msg.UID)}
			if msg.Envelope != nil {
				m.Subject = msg.Envelope.Subject
				m.MessageID = msg.Envelope.MessageID
				m.ReceivedAt = msg.Envelope.Date
				if len(msg.Envelope.From) > 0 {
					m.From = msg.Envelope.From[0].Addr()
				}
			}
			if len(msg.BodySection) > 0 {
				m.Raw = msg.BodySection[0].Bytes
			}
			if m.ReceivedAt.IsZero() {
				m.ReceivedAt = time.Now().UTC()
			}
			msgs = append(msgs, m)
		}

		if err := fetchCmd.Close(); err != nil {
			return fmt.Errorf("imap fetch: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return msgs, nil
}

func uidsOf(uids []imap.UID) []uint32 {
	out := make([]uint32, len(uids))
	for i, u := range uids {
		out[i] = uint32(u)
	}
	return out
}

// Close logs out and drops the connection. Logout is bounded so a dead
// peer cannot hang shutdown.
func (c *Client) Close() error {
	if c.clt == nil {
		return nil
	}
	clt := c.clt
	c.clt = nil
	if err := awaitCmd(context.Background(), c.timeout, clt, "logout", func() error {
		return clt.Logout().Wait()
	}); err != nil {
		return clt.Close()
	}
	return clt.Close()
}
