package types

import "time"

// OutboxStatus tracks where a queued message is in its send lifecycle.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSending OutboxStatus = "sending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxEntry is a locally queued outgoing message. Entries never exist on
// the server; they live only in the send queue.
type OutboxEntry struct {
	ID        int64        `json:"id" db:"id"`
	AccountID string       `json:"account_id" db:"account_id"`
	Recipient string       `json:"recipient" db:"recipient"`
	Subject   string       `json:"subject" db:"subject"`
	Status    OutboxStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}
