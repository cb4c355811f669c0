package mailbox

import (
	"github.com/sirupsen/logrus"

	"github.com/kestrelmail/kestrel/pkg/types"
)

// UnreadCounter is the store query the aggregator uses for unread counts.
// It always reflects the persistent store, not the in-memory listing.
type UnreadCounter interface {
	UnreadCount(accountID, folder string) (int, error)
}

// OutboxLoader is the send-queue surface the aggregator filters by status.
type OutboxLoader interface {
	LoadAll(accountID string) ([]types.OutboxEntry, error)
}

// Badges recomputes derived counters after every mutation. A failed
// recomputation is logged and leaves the previous numbers in place; it is
// never fatal.
type Badges struct {
	headers  UnreadCounter
	outbox   OutboxLoader
	resolver *Resolver
	dispatch *Dispatcher
	logger   *logrus.Logger

	// per-account counters, dispatcher goroutine only
	unread  map[string]int
	pending map[string]int
}

// NewBadges creates a badge aggregator.
func NewBadges(headers UnreadCounter, outbox OutboxLoader, resolver *Resolver, dispatch *Dispatcher, logger *logrus.Logger) *Badges {
	return &Badges{
		headers:  headers,
		outbox:   outbox,
		resolver: resolver,
		dispatch: dispatch,
		logger:   logger,
		unread:   make(map[string]int),
		pending:  make(map[string]int),
	}
}

// Recompute refreshes the account's unread count from a fresh store query
// against the primary inbox folder, and its outbox count from the send
// queue filtered to pending/sending entries.
func (b *Badges) Recompute(accountID string) {
	inbox, err := b.resolver.Resolve(types.CategoryInbox, accountID)
	if err != nil {
		b.logger.WithError(err).WithField("account", accountID).Warn("Badge recompute skipped")
		return
	}

	unread, unreadErr := b.headers.UnreadCount(accountID, inbox)
	if unreadErr != nil {
		b.logger.WithError(unreadErr).WithField("account", accountID).Warn("Failed to recompute unread count")
	}

	pending, pendingErr := b.pendingCount(accountID)
	if pendingErr != nil {
		b.logger.WithError(pendingErr).WithField("account", accountID).Warn("Failed to recompute outbox count")
	}

	b.dispatch.Call(func() {
		if unreadErr == nil {
			b.unread[accountID] = unread
		}
		if pendingErr == nil {
			b.pending[accountID] = pending
		}
	})
}

func (b *Badges) pendingCount(accountID string) (int, error) {
	entries, err := b.outbox.LoadAll(accountID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if e.Status == types.OutboxPending || e.Status == types.OutboxSending {
			count++
		}
	}
	return count, nil
}

// Unread returns the unread badge total across accounts.
func (b *Badges) Unread() int {
	var total int
	b.dispatch.Call(func() {
		for _, n := range b.unread {
			total += n
		}
	})
	return total
}

// OutboxPending returns the pending/sending badge total across accounts.
func (b *Badges) OutboxPending() int {
	var total int
	b.dispatch.Call(func() {
		for _, n := range b.pending {
			total += n
		}
	})
	return total
}
