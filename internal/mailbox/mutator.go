package mailbox

import (
	"github.com/sirupsen/logrus"

	"github.com/kestrelmail/kestrel/pkg/types"
)

// FlagWriter issues the network half of flag mutations: one short-lived
// session and one mutate-flags command per (account, folder) group.
type FlagWriter interface {
	StoreFlags(accountID, folder string, uids []uint32, flag string, add bool) error
	DeleteMessages(accountID, folder string, uids []uint32) error
}

// FlagCache is the persistent-store surface the mutation pipeline writes
// through so store-derived counters see the change.
type FlagCache interface {
	SetFlag(accountID, folder string, uids []uint32, flag string, add bool) error
}

type mutationGroup struct {
	accountID string
	folder    string
	uids      []uint32
}

// groupByFolder partitions an ordered selection into per-(account, folder)
// groups, deduplicating UIDs and preserving first-appearance order.
func groupByFolder(headers []types.MessageHeader) []mutationGroup {
	type key struct{ accountID, folder string }

	index := make(map[key]int)
	seen := make(map[key]map[uint32]bool)
	var groups []mutationGroup

	for _, h := range headers {
		k := key{accountID: h.AccountID, folder: h.Folder}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			seen[k] = make(map[uint32]bool)
			groups = append(groups, mutationGroup{accountID: h.AccountID, folder: h.Folder})
		}
		if seen[k][h.UID] {
			continue
		}
		seen[k][h.UID] = true
		groups[i].uids = append(groups[i].uids, h.UID)
	}
	return groups
}

// Mutator applies one flag state uniformly across a heterogeneous message
// selection. Groups run sequentially so no two sessions overlap against the
// same account; the listing and cache are reconciled after each group's
// network attempt whether or not it succeeded.
type Mutator struct {
	writer   FlagWriter
	cache    FlagCache
	listing  *Listing
	dispatch *Dispatcher
	logger   *logrus.Logger
}

// NewMutator creates a batch flag mutator.
func NewMutator(writer FlagWriter, cache FlagCache, listing *Listing, dispatch *Dispatcher, logger *logrus.Logger) *Mutator {
	return &Mutator{
		writer:   writer,
		cache:    cache,
		listing:  listing,
		dispatch: dispatch,
		logger:   logger,
	}
}

// Apply sets or clears one flag on every input message, issuing exactly one
// mutate-flags command per distinct (account, folder) pair. Local-only
// entries (empty folder) skip the network and are reconciled directly. The
// first network failure is returned after all groups have been attempted.
func (m *Mutator) Apply(headers []types.MessageHeader, flag string, add bool) error {
	var firstErr error
	for _, g := range groupByFolder(headers) {
		if g.folder != "" {
			if err := m.writer.StoreFlags(g.accountID, g.folder, g.uids, flag, add); err != nil {
				m.logger.WithError(err).WithFields(logrus.Fields{
					"account": g.accountID,
					"folder":  g.folder,
					"flag":    flag,
				}).Warn("Flag mutation failed, keeping optimistic state")
				if firstErr == nil {
					firstErr = err
				}
			}
			if err := m.cache.SetFlag(g.accountID, g.folder, g.uids, flag, add); err != nil {
				m.logger.WithError(err).Warn("Failed to update cached flags")
			}
		}

		group := g
		m.dispatch.Call(func() {
			m.listing.ApplyFlag(group.uids, group.folder, flag, add)
		})
	}
	return firstErr
}
