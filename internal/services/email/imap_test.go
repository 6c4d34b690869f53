package email

import (
	"context"
	"crypto/tls"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mail-notifier/internal/models"
)

const plainMessage = "From: Alice <alice@example.com>\r\n" +
	"To: ops@example.com\r\n" +
	"Subject: Disk almost full\r\n" +
	"Date: Sat, 09 Mar 2024 07:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Server db-1 is at 91%.\r\n" +
	"\r\n" +
	"   Please check.   \r\n"

var testAccount = models.Account{
	Address:  "ops@example.com",
	Host:     "imap.example.com",
	Port:     993,
	Password: "secret",
	TLS:      true,
	Mailbox:  "INBOX",
	Active:   true,
}

func newTestSource(mb *fakeMailbox) *Source {
	return NewSource(testAccount, zap.NewNop(), withDialer(mb.dial))
}

func collect(t *testing.T, s *Source) []models.Message {
	t.Helper()
	seq, err := s.FetchUnseen(context.Background())
	require.NoError(t, err)
	var out []models.Message
	for msg := range seq {
		out = append(out, msg)
	}
	return out
}

func TestConnectAndFetchUnseen(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(10, "Disk almost full", plainMessage)
	mb.add(11, "Second", plainMessage)
	s := newTestSource(mb)

	assert.Equal(t, models.Disconnected, s.State())
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, models.Connected, s.State())

	msgs := collect(t, s)
	require.Len(t, msgs, 2)

	first := msgs[0]
	assert.Equal(t, "ops@example.com", first.AccountID)
	assert.Equal(t, "7:10", first.ID)
	assert.Equal(t, uint32(10), first.UID)
	assert.Equal(t, "Disk almost full", first.Subject)
	assert.Equal(t, "Alice <alice@example.com>", first.From)
	assert.Equal(t, 2024, first.Date.Year())
	assert.Equal(t, "Server db-1 is at 91%.\nPlease check.", first.Body)
	assert.Equal(t, "7:11", msgs[1].ID)
}

func TestFetchUnseenIsLazy(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(1, "a", plainMessage)
	mb.add(2, "b", plainMessage)
	mb.add(3, "c", plainMessage)
	s := newTestSource(mb)
	require.NoError(t, s.Connect(context.Background()))

	seq, err := s.FetchUnseen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mb.fetched, "nothing is fetched before iterating")

	for msg := range seq {
		assert.Equal(t, uint32(1), msg.UID)
		break
	}
	assert.Equal(t, []uint32{1}, mb.fetched)
}

func TestFetchUnseenRequiresConnection(t *testing.T) {
	s := newTestSource(newFakeMailbox())

	seq, err := s.FetchUnseen(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsFetchError(err))
	assert.ErrorIs(t, err, models.ErrNotConnected)
	for range seq {
		t.Fatal("expected an empty sequence")
	}
}

func TestFetchUnseenReconnectsOnce(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(5, "a", plainMessage)
	s := newTestSource(mb)
	require.NoError(t, s.Connect(context.Background()))

	mb.searchFailures = 1
	msgs := collect(t, s)
	assert.Len(t, msgs, 1)
	assert.Equal(t, 2, mb.dials, "one implicit reconnect")

	mb.searchFailures = 2
	seq, err := s.FetchUnseen(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsFetchError(err))
	for range seq {
		t.Fatal("expected an empty sequence")
	}
	assert.Equal(t, 3, mb.dials)
}

func TestFetchErrorStopsSequence(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(1, "a", plainMessage)
	s := newTestSource(mb)
	require.NoError(t, s.Connect(context.Background()))

	seq, err := s.FetchUnseen(context.Background())
	require.NoError(t, err)
	mb.fetchErr = errors.New("broken pipe")

	count := 0
	for range seq {
		count++
	}
	assert.Zero(t, count)
	assert.Equal(t, 2, mb.dials, "one reconnect before giving up")
	assert.Equal(t, models.Error, s.State())
	require.Error(t, s.Err())
	assert.True(t, models.IsFetchError(s.Err()))

	// The next health check replaces the failed session.
	mb.fetchErr = nil
	require.NoError(t, s.HealthCheck(context.Background()))
	assert.Equal(t, 3, mb.dials)
	assert.Equal(t, models.Connected, s.State())
	assert.Len(t, collect(t, s), 1)
	assert.NoError(t, s.Err())
}

func TestFetchRecoversAfterReconnect(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(1, "a", plainMessage)
	mb.add(2, "b", plainMessage)
	s := newTestSource(mb)
	require.NoError(t, s.Connect(context.Background()))

	seq, err := s.FetchUnseen(context.Background())
	require.NoError(t, err)
	mb.fetchFailures = 1

	var uids []uint32
	for msg := range seq {
		uids = append(uids, msg.UID)
	}
	assert.Equal(t, []uint32{1, 2}, uids)
	assert.Equal(t, 2, mb.dials)
	assert.NoError(t, s.Err())
	assert.Equal(t, models.Connected, s.State())
}

func TestConnectFailureSetsErrorState(t *testing.T) {
	mb := newFakeMailbox()
	mb.loginErr = errors.New("AUTHENTICATIONFAILED")
	s := newTestSource(mb)

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsConnectionError(err))
	assert.Equal(t, models.Error, s.State())
	assert.Equal(t, 1, mb.logouts, "failed session is logged out")

	mb.loginErr = nil
	mb.dialErr = errors.New("no route to host")
	err = s.Connect(context.Background())
	assert.True(t, models.IsConnectionError(err))
	assert.Equal(t, models.Error, s.State())
}

func TestReconnectTearsDownStaleSession(t *testing.T) {
	mb := newFakeMailbox()
	s := newTestSource(mb)

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, mb.logouts)
	assert.Equal(t, 2, mb.dials)
}

func TestMarkProcessed(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(4, "a", plainMessage)
	s := newTestSource(mb)
	require.NoError(t, s.Connect(context.Background()))

	msgs := collect(t, s)
	require.Len(t, msgs, 1)
	require.NoError(t, s.MarkProcessed(context.Background(), msgs[0]))
	assert.True(t, mb.seen[4])
	assert.Empty(t, collect(t, s))

	mb.storeErr = errors.New("read-only mailbox")
	err := s.MarkProcessed(context.Background(), msgs[0])
	assert.True(t, models.IsMarkProcessedError(err))
}

func TestHealthCheck(t *testing.T) {
	mb := newFakeMailbox()
	s := newTestSource(mb)

	// No session yet: HealthCheck connects.
	require.NoError(t, s.HealthCheck(context.Background()))
	assert.Equal(t, 1, mb.dials)

	require.NoError(t, s.HealthCheck(context.Background()))
	assert.Equal(t, 1, mb.dials, "healthy session is kept")

	mb.noopErr = errors.New("timeout")
	require.NoError(t, s.HealthCheck(context.Background()))
	assert.Equal(t, 2, mb.dials)
	assert.Equal(t, models.Connected, s.State())
}

func TestDisconnect(t *testing.T) {
	mb := newFakeMailbox()
	s := newTestSource(mb)
	require.NoError(t, s.Connect(context.Background()))

	s.Disconnect()
	s.Disconnect()
	assert.Equal(t, models.Disconnected, s.State())
	assert.Equal(t, 1, mb.logouts)
}

func TestMessageID(t *testing.T) {
	assert.Equal(t, "1700000000:42", MessageID(1700000000, 42))
}

type fakeStartTLS struct {
	supported bool
	upgraded  bool
	err       error
}

func (f *fakeStartTLS) SupportStartTLS() (bool, error) { return f.supported, nil }

func (f *fakeStartTLS) StartTLS(*tls.Config) error {
	f.upgraded = f.err == nil
	return f.err
}

func TestUpgradeStartTLS(t *testing.T) {
	plain := testAccount
	plain.TLS = false
	plain.Port = 143

	conn := &fakeStartTLS{supported: true}
	require.NoError(t, upgradeStartTLS(conn, plain, &tls.Config{}))
	assert.True(t, conn.upgraded)

	conn = &fakeStartTLS{}
	err := upgradeStartTLS(conn, plain, &tls.Config{})
	assert.ErrorIs(t, err, ErrStartTLSUnsupported, "refuses to send the password in clear text")
	assert.False(t, conn.upgraded)

	insecure := plain
	insecure.Insecure = true
	assert.NoError(t, upgradeStartTLS(&fakeStartTLS{}, insecure, &tls.Config{}))

	conn = &fakeStartTLS{supported: true, err: errors.New("handshake failure")}
	assert.ErrorContains(t, upgradeStartTLS(conn, plain, &tls.Config{}), "starttls: handshake failure")
}

func TestCountUnseenDoesNotFetch(t *testing.T) {
	mb := newFakeMailbox()
	mb.add(1, "a", plainMessage)
	mb.add(2, "b", plainMessage)
	s := newTestSource(mb)

	_, err := s.CountUnseen(context.Background())
	assert.ErrorIs(t, err, models.ErrNotConnected)

	require.NoError(t, s.Connect(context.Background()))
	mb.searchFailures = 1
	n, err := s.CountUnseen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, mb.fetched)
	assert.Equal(t, 2, mb.dials)
}
