package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap"
	id "github.com/emersion/go-imap-id"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/charset"
	"go.uber.org/zap"

	"mail-notifier/internal/models"
)

func init() {
	imap.CharsetReader = charset.Reader
}

// imapConn is the subset of *client.Client the source relies on.
type imapConn interface {
	Login(username, password string) error
	Logout() error
	Noop() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Terminate() error
}

type dialFunc func(ctx context.Context, account models.Account, timeout time.Duration) (imapConn, error)

// Source is an IMAP mailbox implementing models.MessageSource.
type Source struct {
	account models.Account
	logger  *zap.Logger
	timeout time.Duration
	dial    dialFunc

	state atomic.Int32

	mu          sync.Mutex
	conn        imapConn
	uidValidity uint32
	seqErr      error
}

// Option customizes a Source.
type Option func(*Source)

// WithTimeout bounds dialing and every IMAP command.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Source) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func withDialer(dial dialFunc) Option {
	return func(s *Source) {
		s.dial = dial
	}
}

func NewSource(account models.Account, logger *zap.Logger, opts ...Option) *Source {
	s := &Source{
		account: account,
		logger:  logger.With(zap.String("account", account.Address)),
		timeout: 10 * time.Second,
		dial:    dialIMAP,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setState(models.Disconnected)
	return s
}

var _ models.MessageSource = (*Source)(nil)

func (s *Source) AccountID() string {
	return s.account.Address
}

// Account returns the account the source was built for.
func (s *Source) Account() models.Account {
	return s.account
}

func (s *Source) State() models.ConnectionState {
	return models.ConnectionState(s.state.Load())
}

func (s *Source) setState(state models.ConnectionState) {
	s.state.Store(int32(state))
}

// Connect logs in and selects the mailbox, dropping any previous session
// first.
func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Source) connectLocked(ctx context.Context) error {
	s.closeLocked()
	s.setState(models.Connecting)

	fail := func(err error) error {
		s.setState(models.Error)
		s.logger.Error("Failed to connect to IMAP server", zap.Error(err))
		return &models.ConnectionError{Account: s.account.Address, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	conn, err := s.dial(ctx, s.account, s.timeout)
	if err != nil {
		return fail(fmt.Errorf("dialing %s:%d: %w", s.account.Host, s.account.Port, err))
	}

	if err := conn.Login(s.account.Login(), s.account.Password); err != nil {
		s.logoutQuietly(conn)
		return fail(fmt.Errorf("login failed: %w", err))
	}

	status, err := conn.Select(s.account.Mailbox, false)
	if err != nil {
		s.logoutQuietly(conn)
		return fail(fmt.Errorf("selecting %s: %w", s.account.Mailbox, err))
	}

	s.conn = conn
	s.uidValidity = status.UidValidity
	s.setState(models.Connected)
	s.logger.Info("Connected to IMAP server",
		zap.String("host", s.account.Host),
		zap.String("mailbox", s.account.Mailbox))
	return nil
}

// FetchUnseen lists the unseen messages and returns a sequence that fetches
// each one as it is consumed. A failed listing or fetch is retried once after
// a reconnect. When a fetch still fails the sequence stops, the source moves
// to Error and Err reports the cause.
func (s *Source) FetchUnseen(ctx context.Context) (iter.Seq[models.Message], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seqErr = nil
	uids, err := s.listUnseenLocked(ctx)
	if err != nil {
		return emptySeq, err
	}

	if len(uids) > 0 {
		s.logger.Info("Found unseen messages", zap.Int("count", len(uids)))
	}

	return func(yield func(models.Message) bool) {
		for _, uid := range uids {
			if ctx.Err() != nil {
				return
			}
			msg, found, err := s.fetchOne(uid)
			if err != nil {
				s.logger.Warn("Fetch failed, reconnecting", zap.Uint32("uid", uid), zap.Error(err))
				msg, found, err = s.refetch(ctx, uid)
			}
			if err != nil {
				s.logger.Error("Failed to fetch message", zap.Uint32("uid", uid), zap.Error(err))
				s.failSequence(err)
				return
			}
			if !found {
				continue
			}
			if !yield(msg) {
				return
			}
		}
	}, nil
}

func emptySeq(func(models.Message) bool) {}

// CountUnseen returns the number of unseen messages without fetching them.
func (s *Source) CountUnseen(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	uids, err := s.listUnseenLocked(ctx)
	if err != nil {
		return 0, err
	}
	return len(uids), nil
}

// listUnseenLocked searches for unseen UIDs, reconnecting once on failure.
func (s *Source) listUnseenLocked(ctx context.Context) ([]uint32, error) {
	if s.conn == nil || s.State() != models.Connected {
		return nil, &models.FetchError{Account: s.account.Address, Err: models.ErrNotConnected}
	}

	uids, err := s.searchUnseenLocked()
	if err == nil {
		return uids, nil
	}
	s.logger.Warn("Unseen search failed, reconnecting", zap.Error(err))
	if cerr := s.connectLocked(ctx); cerr != nil {
		return nil, &models.FetchError{Account: s.account.Address, Err: errors.Join(err, cerr)}
	}
	if uids, err = s.searchUnseenLocked(); err != nil {
		return nil, &models.FetchError{Account: s.account.Address, Err: err}
	}
	return uids, nil
}

// Err returns the error that stopped the last FetchUnseen sequence, or nil.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seqErr
}

func (s *Source) refetch(ctx context.Context, uid uint32) (models.Message, bool, error) {
	s.mu.Lock()
	err := s.connectLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return models.Message{}, false, err
	}
	return s.fetchOne(uid)
}

func (s *Source) failSequence(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqErr = &models.FetchError{Account: s.account.Address, Err: err}
	s.setState(models.Error)
}

func (s *Source) searchUnseenLocked() ([]uint32, error) {
	status, err := s.conn.Select(s.account.Mailbox, false)
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", s.account.Mailbox, err)
	}
	if status.UidValidity != s.uidValidity {
		s.logger.Warn("Mailbox UIDVALIDITY changed",
			zap.Uint32("old", s.uidValidity),
			zap.Uint32("new", status.UidValidity))
		s.uidValidity = status.UidValidity
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := s.conn.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("searching unseen: %w", err)
	}
	return uids, nil
}

// fetchOne retrieves a single message without setting \Seen. found is false
// when the server returned nothing for uid, e.g. after a concurrent expunge.
func (s *Source) fetchOne(uid uint32) (models.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return models.Message{}, false, models.ErrNotConnected
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	conn := s.conn
	go func() {
		done <- conn.UidFetch(seqset, items, messages)
	}()

	var fetched *imap.Message
	for m := range messages {
		if fetched == nil {
			fetched = m
		}
	}
	if err := <-done; err != nil {
		return models.Message{}, false, err
	}
	if fetched == nil {
		return models.Message{}, false, nil
	}

	return s.buildMessage(uid, fetched, section), true, nil
}

func (s *Source) buildMessage(uid uint32, fetched *imap.Message, section *imap.BodySectionName) models.Message {
	msg := models.Message{
		AccountID: s.account.Address,
		ID:        MessageID(s.uidValidity, uid),
		UID:       uid,
	}

	if env := fetched.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.Date = env.Date
		if len(env.From) > 0 {
			msg.From = formatAddress(env.From[0].PersonalName, env.From[0].Address())
		}
	}

	body := fetched.GetBody(section)
	if body == nil {
		s.logger.Warn("Server returned no body", zap.Uint32("uid", uid))
		return msg
	}

	parsed, err := parseMail(body)
	if err != nil {
		s.logger.Warn("Failed to parse message body", zap.Uint32("uid", uid), zap.Error(err))
	}
	if msg.From == "" {
		msg.From = parsed.From
	}
	if msg.Subject == "" {
		msg.Subject = parsed.Subject
	}
	if msg.Date.IsZero() {
		msg.Date = parsed.Date
	}
	msg.Body = parsed.Text
	return msg
}

// MarkProcessed sets \Seen on msg.
func (s *Source) MarkProcessed(_ context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fail := func(err error) error {
		return &models.MarkProcessedError{Account: s.account.Address, MessageID: msg.ID, Err: err}
	}
	if s.conn == nil {
		return fail(models.ErrNotConnected)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(msg.UID)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.conn.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fail(err)
	}
	return nil
}

// Disconnect logs out on a best-effort basis.
func (s *Source) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	s.setState(models.Disconnected)
}

func (s *Source) closeLocked() {
	if s.conn == nil {
		return
	}
	s.logoutQuietly(s.conn)
	s.conn = nil
}

func (s *Source) logoutQuietly(conn imapConn) {
	if err := conn.Logout(); err != nil {
		s.logger.Debug("Logout failed, closing connection", zap.Error(err))
		_ = conn.Terminate()
	}
}

// HealthCheck sends NOOP and reconnects when it fails, when there is no
// session or when the source is in Error.
func (s *Source) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil && s.State() == models.Connected {
		err := s.conn.Noop()
		if err == nil {
			return nil
		}
		s.logger.Warn("NOOP failed, reconnecting", zap.Error(err))
	}
	return s.connectLocked(ctx)
}

// MessageID is the account-scoped identifier of a message.
func MessageID(uidValidity, uid uint32) string {
	return strconv.FormatUint(uint64(uidValidity), 10) + ":" + strconv.FormatUint(uint64(uid), 10)
}

// ErrStartTLSUnsupported is returned for a plaintext port without STARTTLS
// unless the account is marked insecure.
var ErrStartTLSUnsupported = errors.New("starttls not supported")

type startTLSConn interface {
	SupportStartTLS() (bool, error)
	StartTLS(tlsConfig *tls.Config) error
}

func upgradeStartTLS(c startTLSConn, account models.Account, tlsConfig *tls.Config) error {
	ok, err := c.SupportStartTLS()
	if err != nil {
		return fmt.Errorf("checking starttls: %w", err)
	}
	if !ok {
		if account.Insecure {
			return nil
		}
		return ErrStartTLSUnsupported
	}
	if err := c.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("starttls: %w", err)
	}
	return nil
}

func dialIMAP(ctx context.Context, account models.Account, timeout time.Duration) (imapConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(account.Host, strconv.Itoa(account.Port))
	dialer := &net.Dialer{Timeout: timeout}
	tlsConfig := &tls.Config{ServerName: account.Host}

	var (
		c   *client.Client
		err error
	)
	if account.TLS {
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, err
	}
	c.Timeout = timeout

	if !account.TLS {
		if err := upgradeStartTLS(c, account, tlsConfig); err != nil {
			_ = c.Logout()
			return nil, err
		}
	}

	// Some providers refuse LOGIN until the client identifies itself. Errors
	// are ignored, most servers do not require it.
	if ok, _ := c.Support("ID"); ok {
		_, _ = id.NewClient(c).ID(id.ID{
			id.FieldName:    "mail-notifier",
			id.FieldVersion: "1.0.0",
		})
	}

	return c, nil
}
