package mailbox

import (
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kestrelmail/kestrel/internal/config"
	"github.com/kestrelmail/kestrel/internal/events"
	"github.com/kestrelmail/kestrel/internal/imap"
	"github.com/kestrelmail/kestrel/pkg/types"
)

// AccountStore is the account surface the controller reads. It never caches
// accounts; every operation takes a fresh snapshot.
type AccountStore interface {
	Accounts() []config.Account
	Account(id string) (*config.Account, error)
}

// HeaderCache is the persistent header store the controller reads listings
// from and writes mutations through.
type HeaderCache interface {
	LoadCachedHeaders(accountID, folder string, limit, offset int) ([]types.MessageHeader, error)
	IncrementalSync(accountID string, folders []string) error
	DeleteHeader(accountID, folder string, uid uint32) error
	SetFlag(accountID, folder string, uids []uint32, flag string, add bool) error
	UnreadCount(accountID, folder string) (int, error)
}

// OutboxQueue is the local send queue the outbox category is built from.
type OutboxQueue interface {
	LoadAll(accountID string) ([]types.OutboxEntry, error)
	Delete(id int64) error
}

// MailboxLister enumerates the folder names a server advertises.
type MailboxLister interface {
	ListMailboxes(accountID string) ([]string, error)
}

// ControllerConfig carries the collaborators a Controller is built from.
type ControllerConfig struct {
	Accounts   AccountStore
	Writer     FlagWriter
	Lister     MailboxLister
	Headers    HeaderCache
	Outbox     OutboxQueue
	Bus        *events.Bus
	Logger     *logrus.Logger
	PageSize   int
	SyncPacing time.Duration
}

// Controller is the session-facing orchestrator: it owns the dispatcher,
// the optimistic listing, the batch mutator, and the badge aggregator, and
// exposes every mailbox operation the UI drives.
type Controller struct {
	accounts AccountStore
	writer   FlagWriter
	lister   MailboxLister
	headers  HeaderCache
	outbox   OutboxQueue
	bus      *events.Bus
	logger   *logrus.Logger

	dispatch *Dispatcher
	listing  *Listing
	mutator  *Mutator
	badges   *Badges
	resolver *Resolver

	pageSize   int
	syncPacing time.Duration

	// dispatcher goroutine only
	loading bool
	lastErr string
	syncing map[string]bool
}

// NewController wires the mailbox core and starts its coordination
// goroutine and event watcher.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.SyncPacing <= 0 {
		cfg.SyncPacing = 2 * time.Second
	}

	dispatch := NewDispatcher()
	listing := NewListing()
	resolver := NewResolver(cfg.Accounts)

	c := &Controller{
		accounts:   cfg.Accounts,
		writer:     cfg.Writer,
		lister:     cfg.Lister,
		headers:    cfg.Headers,
		outbox:     cfg.Outbox,
		bus:        cfg.Bus,
		logger:     cfg.Logger,
		dispatch:   dispatch,
		listing:    listing,
		resolver:   resolver,
		mutator:    NewMutator(cfg.Writer, cfg.Headers, listing, dispatch, cfg.Logger),
		badges:     NewBadges(cfg.Headers, cfg.Outbox, resolver, dispatch, cfg.Logger),
		pageSize:   cfg.PageSize,
		syncPacing: cfg.SyncPacing,
		syncing:    make(map[string]bool),
	}

	if cfg.Bus != nil {
		go c.watchEvents(cfg.Bus.Subscribe())
	}
	return c
}

// Close stops the coordination goroutine. Pending posted work still runs.
func (c *Controller) Close() {
	c.dispatch.Close()
}

func (c *Controller) watchEvents(ch <-chan events.Event) {
	for ev := range ch {
		if ev.Type != events.AccountListChanged {
			continue
		}
		for _, a := range c.accounts.Accounts() {
			c.badges.Recompute(a.ID)
		}
	}
}

// LoadAccounts returns a fresh snapshot of the configured accounts.
func (c *Controller) LoadAccounts() []config.Account {
	return c.accounts.Accounts()
}

// LoadAvailableMailboxes asks the server for the account's folder names in a
// read-only session.
func (c *Controller) LoadAvailableMailboxes(accountID string) ([]string, error) {
	names, err := c.lister.ListMailboxes(accountID)
	if err != nil {
		c.setError(err)
		return nil, err
	}
	return names, nil
}

// LoadCached replaces the listing from the local cache only. It never opens
// a session, so it works offline and shows the last synced state.
func (c *Controller) LoadCached(category types.Category, accountID string) error {
	headers, err := c.loadCategory(category, accountID)
	if err != nil {
		c.setError(err)
		return err
	}

	c.dispatch.Call(func() {
		c.listing.Replace(headers)
		c.lastErr = ""
	})
	return nil
}

// Refresh syncs the category's folder against the server and then reloads
// the listing from the cache. A sync failure still reloads from cache; the
// stale listing stays visible alongside the error message. The outbox
// category is local-only and refreshes without any network activity.
func (c *Controller) Refresh(category types.Category, accountID string) error {
	c.dispatch.Call(func() { c.loading = true })
	defer c.dispatch.Call(func() { c.loading = false })

	folder, err := c.resolver.Resolve(category, accountID)
	if err != nil {
		c.setError(err)
		return err
	}

	var syncErr error
	if folder != "" {
		syncErr = c.headers.IncrementalSync(accountID, []string{folder})
		if syncErr != nil {
			c.logger.WithError(syncErr).WithFields(logrus.Fields{
				"account": accountID,
				"folder":  folder,
			}).Warn("Refresh sync failed, serving cached listing")
		}
	}

	headers, loadErr := c.loadCategory(category, accountID)
	if loadErr != nil {
		c.setError(loadErr)
		return loadErr
	}

	c.dispatch.Call(func() {
		c.listing.Replace(headers)
		if syncErr != nil {
			c.lastErr = userMessage(syncErr)
		} else {
			c.lastErr = ""
		}
	})

	c.badges.Recompute(accountID)
	return syncErr
}

// SyncAccount kicks off a background incremental sync of the account's
// cached folders and marks the account as syncing for at least the pacing
// interval. The pacing delay spaces out successive account syncs; it says
// nothing about whether the sync has finished.
func (c *Controller) SyncAccount(accountID string) {
	c.dispatch.Call(func() { c.syncing[accountID] = true })

	go func() {
		if err := c.headers.IncrementalSync(accountID, nil); err != nil {
			c.logger.WithError(err).WithField("account", accountID).Warn("Account sync failed")
			c.setError(err)
		}
		c.badges.Recompute(accountID)
	}()

	time.Sleep(c.syncPacing)
	c.dispatch.Call(func() { delete(c.syncing, accountID) })
}

// IsSyncing reports whether the account is in the display-only syncing set.
// The sync itself may already be done, or still running after this returns
// false.
func (c *Controller) IsSyncing(accountID string) bool {
	var active bool
	c.dispatch.Call(func() { active = c.syncing[accountID] })
	return active
}

// Delete removes the given messages: server entries are flagged deleted and
// compacted per (account, folder) group, outbox entries are dropped from
// the local queue. Every entry leaves the listing and the cache whether or
// not its network call succeeded; the next sync restores anything the
// server still has.
func (c *Controller) Delete(headers []types.MessageHeader) error {
	var firstErr error
	accounts := make(map[string]bool)

	for _, g := range groupByFolder(headers) {
		accounts[g.accountID] = true

		if g.folder == "" {
			for _, uid := range g.uids {
				if err := c.outbox.Delete(int64(uid)); err != nil {
					c.logger.WithError(err).Warn("Failed to delete outbox entry")
					if firstErr == nil {
						firstErr = err
					}
				}
			}
		} else {
			if err := c.writer.DeleteMessages(g.accountID, g.folder, g.uids); err != nil {
				c.logger.WithError(err).WithFields(logrus.Fields{
					"account": g.accountID,
					"folder":  g.folder,
				}).Warn("Server delete failed, removing locally")
				if firstErr == nil {
					firstErr = err
				}
			}
			for _, uid := range g.uids {
				if err := c.headers.DeleteHeader(g.accountID, g.folder, uid); err != nil {
					c.logger.WithError(err).Warn("Failed to delete cached header")
				}
			}
		}

		group := g
		c.dispatch.Call(func() {
			for _, uid := range group.uids {
				c.listing.Remove(group.accountID, group.folder, uid)
			}
		})
	}

	if firstErr != nil {
		c.setError(firstErr)
	}
	for id := range accounts {
		c.badges.Recompute(id)
	}
	return firstErr
}

// ToggleFlag flips one flag token on one message based on its current
// listing entry, not the caller's possibly stale snapshot.
func (c *Controller) ToggleFlag(header types.MessageHeader, flag string) error {
	return c.toggle(header, flag)
}

// ToggleRead flips the read state of one message.
func (c *Controller) ToggleRead(header types.MessageHeader) error {
	return c.toggle(header, types.FlagSeen)
}

func (c *Controller) toggle(header types.MessageHeader, flag string) error {
	current := header
	c.dispatch.Call(func() {
		if h, ok := c.listing.Get(header.Folder, header.UID); ok {
			current = h
		}
	})

	err := c.mutator.Apply([]types.MessageHeader{current}, flag, !current.HasFlag(flag))
	if err != nil {
		c.setError(err)
	}
	if flag == types.FlagSeen {
		c.badges.Recompute(header.AccountID)
	}
	return err
}

// MarkAllRead marks every unread message in the selection as read, in one
// batch per (account, folder) group. Messages already read are skipped.
func (c *Controller) MarkAllRead(headers []types.MessageHeader) error {
	return c.markAll(headers, types.FlagSeen, true)
}

// MarkAllUnread clears the read flag on every read message in the selection.
func (c *Controller) MarkAllUnread(headers []types.MessageHeader) error {
	return c.markAll(headers, types.FlagSeen, false)
}

func (c *Controller) markAll(headers []types.MessageHeader, flag string, add bool) error {
	var selected []types.MessageHeader
	c.dispatch.Call(func() {
		for _, h := range headers {
			current := h
			if live, ok := c.listing.Get(h.Folder, h.UID); ok {
				current = live
			}
			if current.HasFlag(flag) != add {
				selected = append(selected, current)
			}
		}
	})
	if len(selected) == 0 {
		return nil
	}

	err := c.mutator.Apply(selected, flag, add)
	if err != nil {
		c.setError(err)
	}

	accounts := make(map[string]bool)
	for _, h := range selected {
		accounts[h.AccountID] = true
	}
	for id := range accounts {
		c.badges.Recompute(id)
	}
	return err
}

// Headers returns the current listing snapshot in display order.
func (c *Controller) Headers() []types.MessageHeader {
	var out []types.MessageHeader
	c.dispatch.Call(func() { out = c.listing.Headers() })
	return out
}

// Loading reports whether a refresh is in flight.
func (c *Controller) Loading() bool {
	var loading bool
	c.dispatch.Call(func() { loading = c.loading })
	return loading
}

// LastError returns the most recent user-facing failure message, or the
// empty string after a clean operation.
func (c *Controller) LastError() string {
	var msg string
	c.dispatch.Call(func() { msg = c.lastErr })
	return msg
}

// UnreadCount returns the unread badge total across accounts.
func (c *Controller) UnreadCount() int {
	return c.badges.Unread()
}

// OutboxCount returns the pending-send badge total across accounts.
func (c *Controller) OutboxCount() int {
	return c.badges.OutboxPending()
}

// RecomputeBadges refreshes the derived counters for one account.
func (c *Controller) RecomputeBadges(accountID string) {
	c.badges.Recompute(accountID)
}

func (c *Controller) setError(err error) {
	msg := userMessage(err)
	c.dispatch.Call(func() { c.lastErr = msg })
}

// loadCategory reads one category's listing from local storage. The outbox
// category is synthesized from the send queue; every other category reads
// the cached headers of its resolved folder.
func (c *Controller) loadCategory(category types.Category, accountID string) ([]types.MessageHeader, error) {
	folder, err := c.resolver.Resolve(category, accountID)
	if err != nil {
		return nil, err
	}

	if category == types.CategoryOutbox {
		entries, err := c.outbox.LoadAll(accountID)
		if err != nil {
			return nil, err
		}
		headers := make([]types.MessageHeader, 0, len(entries))
		for _, e := range entries {
			// Queue row IDs double as listing UIDs; an ID past the UID
			// range would alias another row on delete.
			if e.ID < 0 || e.ID > math.MaxUint32 {
				c.logger.WithField("entry", e.ID).Warn("Outbox entry id out of listing range, skipping")
				continue
			}
			headers = append(headers, types.MessageHeader{
				AccountID: e.AccountID,
				Folder:    "",
				UID:       uint32(e.ID),
				From:      e.Recipient,
				Subject:   e.Subject,
				Date:      e.CreatedAt,
			})
		}
		return headers, nil
	}

	return c.headers.LoadCachedHeaders(accountID, folder, c.pageSize, 0)
}

// userMessage flattens a typed failure into one line suitable for display.
func userMessage(err error) string {
	var (
		connErr  *imap.ConnectionError
		authErr  *imap.AuthError
		protoErr *imap.ProtocolError
	)
	switch {
	case errors.As(err, &authErr):
		return "Sign-in failed: " + authErr.Reason
	case errors.As(err, &connErr):
		return "Could not reach the server: " + connErr.Reason
	case errors.As(err, &protoErr):
		return "The server rejected the operation: " + protoErr.Reason
	case errors.Is(err, config.ErrAccountNotFound):
		return "Account is no longer configured"
	default:
		return err.Error()
	}
}
