package mailbox

import (
	"github.com/kestrelmail/kestrel/internal/config"
	"github.com/kestrelmail/kestrel/pkg/types"
)

// DefaultFolder is the server folder used when an account carries no
// mapping for a category.
const DefaultFolder = "INBOX"

// AccountSource yields read-only account snapshots.
type AccountSource interface {
	Account(id string) (*config.Account, error)
}

// Resolver maps abstract mailbox categories to account-specific folder
// paths.
type Resolver struct {
	accounts AccountSource
}

// NewResolver creates a resolver over the account store.
func NewResolver(accounts AccountSource) *Resolver {
	return &Resolver{accounts: accounts}
}

// Resolve returns the folder path for a category. The outbox category is
// local-only and always resolves to an empty path; callers must not attempt
// any remote operation for it. A category without a configured mapping
// resolves to DefaultFolder.
func (r *Resolver) Resolve(category types.Category, accountID string) (string, error) {
	if category == types.CategoryOutbox {
		return "", nil
	}

	acct, err := r.accounts.Account(accountID)
	if err != nil {
		return "", err
	}
	if path := acct.Folders[category]; path != "" {
		return path, nil
	}
	return DefaultFolder, nil
}
