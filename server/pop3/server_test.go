package pop3

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dunlinmail/dunlin/consts"
	"github.com/dunlinmail/dunlin/maildrop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	errorDelay = 0
	os.Exit(m.Run())
}

func maildropAPOPDigest(timestamp, password string) string {
	sum := md5.Sum([]byte(timestamp + password))
	return hex.EncodeToString(sum[:])
}

// memDriver is a tiny in-memory maildrop.Driver for wire-level tests.
type memDriver struct {
	password string
	rows     []maildrop.ListEntry
	bodies   map[int64][]byte
	deleted  []int64
}

func (m *memDriver) GetInbox(_ context.Context, identity, _ string) (*maildrop.Inbox, error) {
	if identity != "alice@example.com" {
		return nil, consts.ErrNoSuchInbox
	}
	return &maildrop.Inbox{AddressID: 1, Password: m.password, ItemCount: len(m.rows)}, nil
}

func (m *memDriver) GetInboxList(context.Context, int64) ([]maildrop.ListEntry, error) {
	return m.rows, nil
}

func (m *memDriver) GetListEntry(_ context.Context, _ int64, messageID int64) (*maildrop.ListEntry, error) {
	for _, row := range m.rows {
		if row.MessageID == messageID {
			return &row, nil
		}
	}
	return nil, consts.ErrDBNotFound
}

func (m *memDriver) MessageExists(_ context.Context, _ int64, messageID int64) (int, error) {
	for _, row := range m.rows {
		if row.MessageID == messageID {
			return 1, nil
		}
	}
	return 0, nil
}

func (m *memDriver) FetchRawMessage(_ context.Context, _ int64, messageID int64) ([]byte, error) {
	body, ok := m.bodies[messageID]
	if !ok {
		return nil, consts.ErrMessageGone
	}
	return body, nil
}

func (m *memDriver) DeleteMarked(_ context.Context, _ int64, messageIDs []int64) (int64, error) {
	m.deleted = append(m.deleted, messageIDs...)
	return int64(len(messageIDs)), nil
}

func (m *memDriver) TestSettings(context.Context) error { return nil }

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// startConn wires a clientConn to one end of a pipe and returns a client on
// the other end, greeting already consumed.
func startConn(t *testing.T, driver maildrop.Driver, cfg maildrop.Config) *testClient {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	c := &clientConn{
		server:  &Server{},
		conn:    serverSide,
		session: maildrop.NewSession(driver, maildrop.NewRegistry(), cfg),
		banner:  "<12345.67890@test.example.com>",
	}
	go c.handle(context.Background())
	t.Cleanup(func() { clientSide.Close() })

	tc := &testClient{t: t, conn: clientSide, reader: bufio.NewReader(clientSide)}
	greeting := tc.readLine()
	require.True(t, strings.HasPrefix(greeting, "+OK"), "greeting: %s", greeting)
	require.Contains(t, greeting, "<12345.67890@test.example.com>")
	return tc
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	require.NoError(c.t, err)
}

func (c *testClient) readLine() string {
	c.t.Helper()
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\r\n")
}

// readMultiline reads lines up to and excluding the terminating dot,
// undoing byte-stuffing.
func (c *testClient) readMultiline() []string {
	c.t.Helper()
	var lines []string
	for {
		line := c.readLine()
		if line == "." {
			return lines
		}
		lines = append(lines, strings.TrimPrefix(line, "."))
	}
}

func newTestDriver() *memDriver {
	return &memDriver{
		password: "secret",
		rows: []maildrop.ListEntry{
			{MessageID: 101, Checksum: "hash-one", Size: 21},
			{MessageID: 102, Checksum: "hash-two", Size: 27},
		},
		bodies: map[int64][]byte{
			101: []byte("Subject: one\r\n\r\nfirst\r\n"),
			102: []byte("Subject: two\r\n\r\n.starts with dot\r\n"),
		},
	}
}

var wireConfig = maildrop.Config{AllowDelete: true, RequirePassword: true}

func TestWireSessionWalkthrough(t *testing.T) {
	d := newTestDriver()
	c := startConn(t, d, wireConfig)

	c.send("USER alice@example.com")
	assert.Equal(t, "+OK User accepted", c.readLine())

	c.send("PASS secret")
	assert.Equal(t, "+OK Maildrop locked and ready", c.readLine())

	c.send("STAT")
	assert.Equal(t, "+OK 2 48", c.readLine())

	c.send("LIST")
	assert.Equal(t, "+OK 2 messages (48 octets)", c.readLine())
	assert.Equal(t, []string{"1 21", "2 27"}, c.readMultiline())

	c.send("UIDL")
	assert.Equal(t, "+OK unique-id listing follows", c.readLine())
	assert.Equal(t, []string{"1 hash-one", "2 hash-two"}, c.readMultiline())

	c.send("RETR 2")
	assert.Equal(t, "+OK 34 octets", c.readLine())
	body := c.readMultiline()
	assert.Equal(t, []string{"Subject: two", "", ".starts with dot"}, body)

	c.send("DELE 1")
	assert.Equal(t, "+OK Message 1 deleted", c.readLine())

	// Deletion is deferred: RETR still works after DELE
	c.send("RETR 1")
	assert.Equal(t, "+OK 23 octets", c.readLine())
	c.readMultiline()

	c.send("QUIT")
	assert.Equal(t, "+OK Goodbye", c.readLine())

	assert.Equal(t, []int64{101}, d.deleted)
}

// Single-argument LIST and UIDL must answer immediately; a response stuck in
// the write buffer stalls the client until the idle timeout.
func TestWireSingleMessageListingsRespondImmediately(t *testing.T) {
	d := newTestDriver()
	c := startConn(t, d, wireConfig)

	c.send("USER alice@example.com")
	c.readLine()
	c.send("PASS secret")
	c.readLine()

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	c.send("LIST 2")
	assert.Equal(t, "+OK 2 27", c.readLine())

	c.send("UIDL 1")
	assert.Equal(t, "+OK 1 hash-one", c.readLine())

	c.send("LIST 3")
	assert.Equal(t, "-ERR No such message", c.readLine())

	c.send("QUIT")
	assert.Equal(t, "+OK Goodbye", c.readLine())
}

func TestWireRSETAbandonsMarks(t *testing.T) {
	d := newTestDriver()
	c := startConn(t, d, wireConfig)

	c.send("APOP alice@example.com " + maildropAPOPDigest("<12345.67890@test.example.com>", "secret"))
	assert.Equal(t, "+OK Maildrop locked and ready", c.readLine())

	c.send("DELE 1")
	assert.Equal(t, "+OK Message 1 deleted", c.readLine())

	c.send("RSET")
	assert.Equal(t, "+OK", c.readLine())

	c.send("QUIT")
	assert.Equal(t, "+OK Goodbye", c.readLine())

	assert.Empty(t, d.deleted, "nothing may be deleted after RSET")
}

func TestWireDeleteDisabled(t *testing.T) {
	d := newTestDriver()
	c := startConn(t, d, maildrop.Config{AllowDelete: false, RequirePassword: true})

	c.send("USER alice@example.com")
	c.readLine()
	c.send("PASS secret")
	assert.Equal(t, "+OK Maildrop locked and ready", c.readLine())

	c.send("DELE 2")
	assert.Equal(t, "+OK Message 2 deleted", c.readLine())

	c.send("QUIT")
	assert.Equal(t, "+OK Goodbye", c.readLine())

	assert.Empty(t, d.deleted, "delete switch off must never reach the backend")
}

func TestWireCommandsBeforeAuth(t *testing.T) {
	c := startConn(t, newTestDriver(), wireConfig)

	c.send("STAT")
	assert.Equal(t, "-ERR Not authenticated", c.readLine())

	c.send("NOOP")
	assert.Equal(t, "+OK", c.readLine())

	c.send("QUIT")
	assert.Equal(t, "+OK Goodbye", c.readLine())
}
