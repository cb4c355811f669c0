package types

import "time"

// Category is an abstract mailbox slot that maps to an account-specific
// folder path. The outbox category is local-only and never has a server
// folder.
type Category string

const (
	CategoryInbox   Category = "inbox"
	CategorySent    Category = "sent"
	CategoryDrafts  Category = "drafts"
	CategoryTrash   Category = "trash"
	CategoryArchive Category = "archive"
	CategoryOutbox  Category = "outbox"
)

// System flags per the reserved backslash convention.
const (
	FlagSeen     = `\Seen`
	FlagAnswered = `\Answered`
	FlagFlagged  = `\Flagged`
	FlagDeleted  = `\Deleted`
	FlagDraft    = `\Draft`
)

// MessageHeader is one row of the mailbox listing. Identity is
// (AccountID, Folder, UID); UIDs are stable within a folder.
type MessageHeader struct {
	AccountID string    `json:"account_id" db:"account_id"`
	Folder    string    `json:"folder" db:"folder"`
	UID       uint32    `json:"uid" db:"uid"`
	From      string    `json:"from" db:"sender"`
	Subject   string    `json:"subject" db:"subject"`
	Date      time.Time `json:"date" db:"date"`
	Flags     []string  `json:"flags,omitempty"`
}

// HasFlag reports whether the header carries the given flag token.
func (h *MessageHeader) HasFlag(flag string) bool {
	for _, f := range h.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// SetFlag adds or removes a flag token in place. The flag set never
// contains duplicates.
func (h *MessageHeader) SetFlag(flag string, present bool) {
	if present {
		if !h.HasFlag(flag) {
			h.Flags = append(h.Flags, flag)
		}
		return
	}
	out := h.Flags[:0]
	for _, f := range h.Flags {
		if f != flag {
			out = append(out, f)
		}
	}
	h.Flags = out
}
