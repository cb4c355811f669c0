package mailbox

import "github.com/kestrelmail/kestrel/pkg/types"

type listingKey struct {
	folder string
	uid    uint32
}

// Listing is the UI-facing ordered view of message headers, keyed by
// (folder, uid). Mutations apply immediately, without waiting for network
// confirmation, and never re-fetch from the server. Only the dispatcher
// goroutine touches a Listing.
type Listing struct {
	order []listingKey
	byKey map[listingKey]*types.MessageHeader
}

// NewListing creates an empty listing.
func NewListing() *Listing {
	return &Listing{byKey: make(map[listingKey]*types.MessageHeader)}
}

// Replace swaps the whole listing for a fresh snapshot.
func (l *Listing) Replace(headers []types.MessageHeader) {
	l.order = l.order[:0]
	l.byKey = make(map[listingKey]*types.MessageHeader, len(headers))
	for i := range headers {
		h := headers[i]
		k := listingKey{folder: h.Folder, uid: h.UID}
		if _, dup := l.byKey[k]; dup {
			continue
		}
		l.order = append(l.order, k)
		l.byKey[k] = &h
	}
}

// ApplyFlag adds or removes a flag token in place on every matching entry.
func (l *Listing) ApplyFlag(uids []uint32, folder, flag string, add bool) {
	for _, uid := range uids {
		if h, ok := l.byKey[listingKey{folder: folder, uid: uid}]; ok {
			h.SetFlag(flag, add)
		}
	}
}

// Remove drops the matching entry. It reports whether an entry was removed.
func (l *Listing) Remove(accountID, folder string, uid uint32) bool {
	k := listingKey{folder: folder, uid: uid}
	h, ok := l.byKey[k]
	if !ok || h.AccountID != accountID {
		return false
	}
	delete(l.byKey, k)
	for i, existing := range l.order {
		if existing == k {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of the entry for (folder, uid).
func (l *Listing) Get(folder string, uid uint32) (types.MessageHeader, bool) {
	h, ok := l.byKey[listingKey{folder: folder, uid: uid}]
	if !ok {
		return types.MessageHeader{}, false
	}
	out := *h
	out.Flags = append([]string(nil), h.Flags...)
	return out, true
}

// Headers returns a copy of the listing in display order.
func (l *Listing) Headers() []types.MessageHeader {
	out := make([]types.MessageHeader, 0, len(l.order))
	for _, k := range l.order {
		h := l.byKey[k]
		cp := *h
		cp.Flags = append([]string(nil), h.Flags...)
		out = append(out, cp)
	}
	return out
}

// Len returns the number of entries.
func (l *Listing) Len() int {
	return len(l.order)
}
