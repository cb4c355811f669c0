package imap

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/kestrelmail/kestrel/pkg/types"
)

// FetchHeaders retrieves UID, flags, and the From/Subject/Date header
// fields for every message in the selected folder.
func (s *Session) FetchHeaders() ([]types.MessageHeader, error) {
	lines, err := s.Exec("UID FETCH 1:* (UID FLAGS BODY.PEEK[HEADER.FIELDS (FROM SUBJECT DATE)])")
	if err != nil {
		return nil, err
	}
	return parseFetchHeaders(lines), nil
}

var (
	fetchUIDPattern   = regexp.MustCompile(`\bUID (\d+)`)
	fetchFlagsPattern = regexp.MustCompile(`\bFLAGS \(([^)]*)\)`)
)

// parseFetchHeaders walks untagged FETCH responses. Each message starts on
// a "* n FETCH (..." line carrying UID and FLAGS; the requested header
// fields follow as literal lines until a lone ")". Unrecognized lines are
// skipped rather than failing the whole fetch.
func parseFetchHeaders(lines []string) []types.MessageHeader {
	var out []types.MessageHeader
	var cur *types.MessageHeader

	flush := func() {
		if cur != nil && cur.UID != 0 {
			out = append(out, *cur)
		}
		cur = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "* ") && strings.Contains(line, " FETCH (") {
			flush()
			h := types.MessageHeader{}
			if m := fetchUIDPattern.FindStringSubmatch(line); m != nil {
				n, _ := strconv.ParseUint(m[1], 10, 32)
				h.UID = uint32(n)
			}
			if m := fetchFlagsPattern.FindStringSubmatch(line); m != nil {
				h.Flags = strings.Fields(m[1])
			}
			cur = &h
			continue
		}

		if cur == nil {
			continue
		}
		if line == ")" {
			flush()
			continue
		}

		i := strings.Index(line, ": ")
		if i <= 0 {
			continue
		}
		value := strings.TrimSpace(line[i+2:])
		switch strings.ToLower(line[:i]) {
		case "from":
			cur.From = value
		case "subject":
			cur.Subject = value
		case "date":
			if t, err := mail.ParseDate(value); err == nil {
				cur.Date = t
			}
		}
	}
	flush()

	return out
}
