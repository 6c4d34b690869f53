package email

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap"

	"mail-notifier/internal/models"
)

// fakeMailbox is an in-memory IMAP server shared by every fakeConn dialed
// from it.
type fakeMailbox struct {
	mu          sync.Mutex
	uidValidity uint32
	raw         map[uint32]string
	subjects    map[uint32]string
	seen        map[uint32]bool

	dialErr  error
	loginErr error
	noopErr  error
	storeErr error
	fetchErr error

	// searchFailures and fetchFailures make the next n searches or fetches fail.
	searchFailures int
	fetchFailures  int

	dials   int
	logouts int
	fetched []uint32
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		uidValidity: 7,
		raw:         make(map[uint32]string),
		subjects:    make(map[uint32]string),
		seen:        make(map[uint32]bool),
	}
}

func (m *fakeMailbox) add(uid uint32, subject, raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw[uid] = raw
	m.subjects[uid] = subject
}

func (m *fakeMailbox) dial(_ context.Context, _ models.Account, _ time.Duration) (imapConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dials++
	if m.dialErr != nil {
		return nil, m.dialErr
	}
	return &fakeConn{mb: m}, nil
}

type fakeConn struct {
	mb *fakeMailbox
}

func (c *fakeConn) Login(_, _ string) error {
	c.mb.mu.Lock()
	defer c.mb.mu.Unlock()
	return c.mb.loginErr
}

func (c *fakeConn) Logout() error {
	c.mb.mu.Lock()
	defer c.mb.mu.Unlock()
	c.mb.logouts++
	return nil
}

func (c *fakeConn) Terminate() error { return nil }

func (c *fakeConn) Noop() error {
	c.mb.mu.Lock()
	defer c.mb.mu.Unlock()
	return c.mb.noopErr
}

func (c *fakeConn) Select(name string, _ bool) (*imap.MailboxStatus, error) {
	c.mb.mu.Lock()
	defer c.mb.mu.Unlock()
	status := imap.NewMailboxStatus(name, nil)
	status.UidValidity = c.mb.uidValidity
	return status, nil
}

func (c *fakeConn) UidSearch(_ *imap.SearchCriteria) ([]uint32, error) {
	c.mb.mu.Lock()
	defer c.mb.mu.Unlock()
	if c.mb.searchFailures > 0 {
		c.mb.searchFailures--
		return nil, errors.New("connection reset by peer")
	}
	var uids []uint32
	for uid := range c.mb.raw {
		if !c.mb.seen[uid] {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (c *fakeConn) UidFetch(seqset *imap.SeqSet, _ []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	c.mb.mu.Lock()
	defer c.mb.mu.Unlock()
	if c.mb.fetchErr != nil {
		return c.mb.fetchErr
	}
	if c.mb.fetchFailures > 0 {
		c.mb.fetchFailures--
		return errors.New("connection reset by peer")
	}
	for uid, raw := range c.mb.raw {
		if !seqset.Contains(uid) {
			continue
		}
		c.mb.fetched = append(c.mb.fetched, uid)
		ch <- &imap.Message{
			Uid:      uid,
			Envelope: &imap.Envelope{Subject: c.mb.subjects[uid]},
			Body: map[*imap.BodySectionName]imap.Literal{
				{}: bytes.NewBufferString(raw),
			},
		}
	}
	return nil
}

func (c *fakeConn) UidStore(seqset *imap.SeqSet, _ imap.StoreItem, _ interface{}, _ chan *imap.Message) error {
	c.mb.mu.Lock()
	defer c.mb.mu.Unlock()
	if c.mb.storeErr != nil {
		return c.mb.storeErr
	}
	for uid := range c.mb.raw {
		if seqset.Contains(uid) {
			c.mb.seen[uid] = true
		}
	}
	return nil
}
