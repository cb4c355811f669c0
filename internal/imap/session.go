package imap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Session is an authenticated, folder-selected connection executing tagged
// commands for a single unit of work. Sessions are exclusively owned and
// never shared across operations.
type Session struct {
	conn        Conn
	idleTimeout time.Duration
	logger      *logrus.Entry
}

// newTag returns a fresh correlation token, unique among in-flight commands.
func newTag() string {
	return strings.ToUpper(xid.New().String())
}

// Exec sends one command under a fresh token and collects response lines
// until the completion line carrying that token arrives. All collected
// lines are returned. A missing completion within the idle timeout, or a
// non-OK completion, is a ProtocolError.
func (s *Session) Exec(command string) ([]string, error) {
	tag := newTag()
	word := commandWord(command)

	if err := s.conn.SendLine(tag + " " + command); err != nil {
		return nil, &ProtocolError{Reason: "sending " + word, Err: err}
	}

	prefix := tag + " "
	deadline := time.Now().Add(s.idleTimeout)
	var lines []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return lines, &ProtocolError{Reason: "no completion for " + word + " within idle timeout"}
		}
		line, err := s.conn.ReadLine(remaining)
		if err != nil {
			return lines, &ProtocolError{Reason: "reading " + word + " response", Err: err}
		}
		lines = append(lines, line)

		if strings.HasPrefix(line, prefix) {
			result := line[len(prefix):]
			if strings.HasPrefix(result, "OK") {
				return lines, nil
			}
			return lines, &ProtocolError{Reason: word + " failed: " + result, Negative: true}
		}
	}
}

// greeting consumes the server greeting sent right after connect.
func (s *Session) greeting() error {
	line, err := s.conn.ReadLine(s.idleTimeout)
	if err != nil {
		return &ConnectionError{Reason: "reading server greeting", Err: err}
	}
	if !strings.HasPrefix(line, "* ") {
		return &ProtocolError{Reason: "unexpected greeting: " + line}
	}
	return nil
}

// StartTLS negotiates an in-place TLS upgrade.
func (s *Session) StartTLS(sniHost string) error {
	if _, err := s.Exec("STARTTLS"); err != nil {
		return err
	}
	if err := s.conn.StartTLS(sniHost); err != nil {
		return &ConnectionError{Reason: "negotiating TLS", Err: err}
	}
	return nil
}

// Login authenticates with the stored credentials. Only a negative
// completion is an AuthError; a missing or unreadable completion stays a
// ProtocolError.
func (s *Session) Login(username, password string) error {
	_, err := s.Exec(fmt.Sprintf(`LOGIN "%s" "%s"`, quoteEscape(username), quoteEscape(password)))
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) && perr.Negative {
			return &AuthError{Reason: "server rejected login for " + username}
		}
		return err
	}
	return nil
}

// Select opens a folder read-write.
func (s *Session) Select(folder string) error {
	_, err := s.Exec(`SELECT "` + quoteEscape(folder) + `"`)
	return err
}

// Examine opens a folder read-only.
func (s *Session) Examine(folder string) error {
	_, err := s.Exec(`EXAMINE "` + quoteEscape(folder) + `"`)
	return err
}

// Logout announces session end. Callers treat its failure as non-fatal; the
// transport is closed regardless.
func (s *Session) Logout() error {
	_, err := s.Exec("LOGOUT")
	return err
}

// StoreFlags adds or removes one flag on all given UIDs with a single
// mutate-flags command.
func (s *Session) StoreFlags(uids []uint32, flag string, add bool) error {
	if len(uids) == 0 {
		return nil
	}
	mode := "+FLAGS"
	if !add {
		mode = "-FLAGS"
	}
	_, err := s.Exec(fmt.Sprintf("UID STORE %s %s (%s)", seqSet(uids), mode, flag))
	return err
}

// ExpungeDeleted compacts messages already carrying \Deleted. The
// UID-scoped form runs first; on a negative or missing completion a
// folder-wide EXPUNGE is issued under a fresh token and its outcome is
// discarded. Neither failure surfaces to the caller.
func (s *Session) ExpungeDeleted(uids []uint32) {
	if len(uids) == 0 {
		return
	}
	if _, err := s.Exec("UID EXPUNGE " + seqSet(uids)); err != nil {
		s.logger.WithError(err).Debug("UID EXPUNGE not accepted, falling back to EXPUNGE")
		if _, err := s.Exec("EXPUNGE"); err != nil {
			s.logger.WithError(err).Debug("Fallback EXPUNGE failed")
		}
	}
}

// ListMailboxes returns the mailbox names advertised by the server.
func (s *Session) ListMailboxes() ([]string, error) {
	lines, err := s.Exec(`LIST "" "*"`)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range lines {
		if !strings.HasPrefix(line, "* LIST ") {
			continue
		}
		if name := parseListName(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// seqSet renders UIDs as a comma-separated message set.
func seqSet(uids []uint32) string {
	parts := make([]string, len(uids))
	for i, uid := range uids {
		parts[i] = strconv.FormatUint(uint64(uid), 10)
	}
	return strings.Join(parts, ",")
}

// commandWord returns the leading verb of a command line, safe to embed in
// errors and logs.
func commandWord(command string) string {
	if i := strings.IndexByte(command, ' '); i > 0 {
		return command[:i]
	}
	return command
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quoteEscape(s string) string {
	return quoteEscaper.Replace(s)
}

// parseListName extracts the mailbox name from a LIST response line.
func parseListName(line string) string {
	line = strings.TrimRight(line, " ")
	if strings.HasSuffix(line, `"`) {
		end := len(line) - 1
		for i := end - 1; i >= 0; i-- {
			if line[i] == '"' && (i == 0 || line[i-1] != '\\') {
				return strings.NewReplacer(`\"`, `"`, `\\`, `\`).Replace(line[i+1 : end])
			}
		}
		return ""
	}
	if i := strings.LastIndexByte(line, ' '); i >= 0 {
		return line[i+1:]
	}
	return ""
}
