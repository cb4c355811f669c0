package imap

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelmail/kestrel/pkg/types"
)

// fakeConn scripts responses per command. SendLine parses the tag, asks the
// respond callback for reply lines, and queues them for ReadLine.
type fakeConn struct {
	respond  func(tag, command string) []string
	queue    []string
	sent     []string
	closed   bool
	upgraded bool
}

func newFakeConn(respond func(tag, command string) []string) *fakeConn {
	return &fakeConn{
		respond: respond,
		queue:   []string{"* OK kestrel-test ready"},
	}
}

func (c *fakeConn) SendLine(line string) error {
	c.sent = append(c.sent, line)
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return errors.New("malformed command line")
	}
	c.queue = append(c.queue, c.respond(line[:i], line[i+1:])...)
	return nil
}

func (c *fakeConn) ReadLine(timeout time.Duration) (string, error) {
	if len(c.queue) == 0 {
		return "", errors.New("connection reset")
	}
	line := c.queue[0]
	c.queue = c.queue[1:]
	return line, nil
}

func (c *fakeConn) StartTLS(sniHost string) error {
	c.upgraded = true
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestSession(conn Conn) *Session {
	return &Session{
		conn:        conn,
		idleTimeout: time.Second,
		logger:      logrus.NewEntry(testLogger()),
	}
}

// command extracts the verb and arguments after the tag of a sent line.
func command(sent string) string {
	i := strings.IndexByte(sent, ' ')
	return sent[i+1:]
}

func okOnly(tag, command string) []string {
	return []string{tag + " OK done"}
}

func TestExecCollectsLinesUntilCompletion(t *testing.T) {
	conn := newFakeConn(func(tag, cmd string) []string {
		return []string{"* 3 EXISTS", "* 0 RECENT", tag + " OK done"}
	})
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	lines, err := sess.Exec("NOOP")
	require.NoError(t, err)
	assert.Len(t, lines, 3)
	assert.Equal(t, "* 3 EXISTS", lines[0])
}

func TestExecIgnoresForeignTags(t *testing.T) {
	conn := newFakeConn(func(tag, cmd string) []string {
		return []string{"STALE1 OK leftover", tag + " OK done"}
	})
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	lines, err := sess.Exec("NOOP")
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestExecNonOKCompletion(t *testing.T) {
	conn := newFakeConn(func(tag, cmd string) []string {
		return []string{tag + " NO no such mailbox"}
	})
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	_, err := sess.Exec(`SELECT "Missing"`)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "SELECT failed")
}

func TestExecTimesOutWithoutCompletion(t *testing.T) {
	conn := newFakeConn(okOnly)
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())
	sess.idleTimeout = -time.Millisecond

	_, err := sess.Exec("NOOP")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "idle timeout")
}

func TestExecErrorNamesOnlyCommandWord(t *testing.T) {
	conn := newFakeConn(func(tag, cmd string) []string {
		return []string{tag + " BAD parse error"}
	})
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	_, err := sess.Exec(`LOGIN "alice" "s3cret"`)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cret")
}

func TestGreetingRejectsNonUntagged(t *testing.T) {
	conn := newFakeConn(okOnly)
	conn.queue = []string{"BYE go away"}
	sess := newTestSession(conn)

	err := sess.greeting()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestLoginRejectionIsAuthError(t *testing.T) {
	conn := newFakeConn(func(tag, cmd string) []string {
		return []string{tag + " NO [AUTHENTICATIONFAILED] invalid credentials"}
	})
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	err := sess.Login("alice@example.com", "wrong")
	var aerr *AuthError
	require.ErrorAs(t, err, &aerr)
	assert.Contains(t, aerr.Reason, "alice@example.com")
	assert.NotContains(t, err.Error(), "wrong")
}

func TestLoginTimeoutStaysProtocolError(t *testing.T) {
	conn := newFakeConn(func(tag, cmd string) []string { return nil })
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())
	sess.idleTimeout = -time.Millisecond

	err := sess.Login("alice", "pw")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Negative)
	assert.Contains(t, perr.Reason, "idle timeout")

	var aerr *AuthError
	assert.False(t, errors.As(err, &aerr))
}

func TestLoginReadFailureStaysProtocolError(t *testing.T) {
	// No scripted reply: the next read fails as if the peer dropped the
	// connection mid-login.
	conn := newFakeConn(func(tag, cmd string) []string { return nil })
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	err := sess.Login("alice", "pw")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Negative)

	var aerr *AuthError
	assert.False(t, errors.As(err, &aerr))
}

func TestLoginQuotesSpecialCharacters(t *testing.T) {
	conn := newFakeConn(okOnly)
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	require.NoError(t, sess.Login("alice", `pa"ss\word`))
	require.Len(t, conn.sent, 1)
	assert.Equal(t, `LOGIN "alice" "pa\"ss\\word"`, command(conn.sent[0]))
}

func TestStoreFlagsBuildsOneCommand(t *testing.T) {
	conn := newFakeConn(okOnly)
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	require.NoError(t, sess.StoreFlags([]uint32{3, 5, 9}, types.FlagSeen, true))
	require.Len(t, conn.sent, 1)
	assert.Equal(t, `UID STORE 3,5,9 +FLAGS (\Seen)`, command(conn.sent[0]))
}

func TestStoreFlagsRemoveMode(t *testing.T) {
	conn := newFakeConn(okOnly)
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	require.NoError(t, sess.StoreFlags([]uint32{7}, types.FlagFlagged, false))
	require.Len(t, conn.sent, 1)
	assert.Equal(t, `UID STORE 7 -FLAGS (\Flagged)`, command(conn.sent[0]))
}

func TestStoreFlagsEmptySelectionSendsNothing(t *testing.T) {
	conn := newFakeConn(okOnly)
	sess := newTestSession(conn)

	require.NoError(t, sess.StoreFlags(nil, types.FlagSeen, true))
	assert.Empty(t, conn.sent)
}

func TestExpungeDeletedUIDScopedSuccess(t *testing.T) {
	conn := newFakeConn(okOnly)
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	sess.ExpungeDeleted([]uint32{4, 8})
	require.Len(t, conn.sent, 1)
	assert.Equal(t, "UID EXPUNGE 4,8", command(conn.sent[0]))
}

func TestExpungeDeletedFallsBackToPlainExpunge(t *testing.T) {
	conn := newFakeConn(func(tag, cmd string) []string {
		if strings.HasPrefix(cmd, "UID EXPUNGE") {
			return []string{tag + " NO unsupported"}
		}
		return []string{tag + " OK done"}
	})
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	sess.ExpungeDeleted([]uint32{4})
	require.Len(t, conn.sent, 2)
	assert.Equal(t, "UID EXPUNGE 4", command(conn.sent[0]))
	assert.Equal(t, "EXPUNGE", command(conn.sent[1]))
}

func TestExpungeDeletedSwallowsFallbackFailure(t *testing.T) {
	conn := newFakeConn(func(tag, cmd string) []string {
		return []string{tag + " NO not today"}
	})
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	sess.ExpungeDeleted([]uint32{4})
	assert.Len(t, conn.sent, 2)
}

func TestListMailboxesParsesQuotedAndBareNames(t *testing.T) {
	conn := newFakeConn(func(tag, cmd string) []string {
		return []string{
			`* LIST (\HasNoChildren) "/" INBOX`,
			`* LIST (\HasNoChildren) "/" "Sent Items"`,
			`* LIST (\Noselect) "/" "[Gmail]"`,
			tag + " OK done",
		}
	})
	sess := newTestSession(conn)
	require.NoError(t, sess.greeting())

	names, err := sess.ListMailboxes()
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX", "Sent Items", "[Gmail]"}, names)
}

func TestParseListNameEscapedQuote(t *testing.T) {
	assert.Equal(t, `My "stuff"`, parseListName(`* LIST () "/" "My \"stuff\""`))
}

func TestParseFetchHeaders(t *testing.T) {
	lines := []string{
		`* 1 FETCH (UID 101 FLAGS (\Seen) BODY[HEADER.FIELDS (FROM SUBJECT DATE)] {120}`,
		`From: Alice <alice@example.com>`,
		`Subject: Quarterly numbers`,
		`Date: Mon, 17 Aug 2026 09:15:00 +0000`,
		``,
		`)`,
		`* 2 FETCH (UID 102 FLAGS () BODY[HEADER.FIELDS (FROM SUBJECT DATE)] {40}`,
		`Subject: no sender line`,
		`)`,
		`A1 OK done`,
	}

	headers := parseFetchHeaders(lines)
	require.Len(t, headers, 2)

	assert.Equal(t, uint32(101), headers[0].UID)
	assert.Equal(t, []string{`\Seen`}, headers[0].Flags)
	assert.Equal(t, "Alice <alice@example.com>", headers[0].From)
	assert.Equal(t, "Quarterly numbers", headers[0].Subject)
	assert.Equal(t, time.Date(2026, 8, 17, 9, 15, 0, 0, time.UTC).Unix(), headers[0].Date.Unix())

	assert.Equal(t, uint32(102), headers[1].UID)
	assert.Empty(t, headers[1].Flags)
	assert.Equal(t, "no sender line", headers[1].Subject)
}

func TestParseFetchHeadersDropsRowsWithoutUID(t *testing.T) {
	lines := []string{
		`* 1 FETCH (FLAGS (\Seen))`,
		`* 2 FETCH (UID 7 FLAGS ())`,
		`A1 OK done`,
	}
	headers := parseFetchHeaders(lines)
	require.Len(t, headers, 1)
	assert.Equal(t, uint32(7), headers[0].UID)
}
