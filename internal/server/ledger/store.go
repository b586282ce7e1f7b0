package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Reader is the read side of a ledger store, bound to a consistent snapshot.
type Reader interface {
	// ContentCount returns the number of content items ever created, which
	// is also the highest assigned id.
	ContentCount(ctx context.Context) (uint64, error)
	Content(ctx context.Context, id uint64) (*ContentItem, error)
	HasAccess(ctx context.Context, buyer common.Address, contentID uint64) (bool, error)
	CreatorAccount(ctx context.Context, creator common.Address) (*CreatorAccount, error)
	// CreatorContentIDs and BuyerContentIDs read the secondary indexes and
	// return ids in ascending order.
	CreatorContentIDs(ctx context.Context, creator common.Address) ([]uint64, error)
	BuyerContentIDs(ctx context.Context, buyer common.Address) ([]uint64, error)
	Withdrawals(ctx context.Context, creator common.Address) ([]*Withdrawal, error)
}

// Tx is a read-write unit of work. Nothing it writes is visible to other
// readers until the surrounding Update returns nil.
type Tx interface {
	Reader
	// InsertContent stores a new item; item.ID must equal ContentCount()+1.
	InsertContent(ctx context.Context, item *ContentItem) error
	UpdateContent(ctx context.Context, item *ContentItem) error
	InsertGrant(ctx context.Context, grant *AccessGrant) error
	PutCreatorAccount(ctx context.Context, account *CreatorAccount) error
	InsertWithdrawal(ctx context.Context, w *Withdrawal) error
}

// Store is the persistence contract behind the ledger service.
type Store interface {
	View(ctx context.Context, fn func(r Reader) error) error
	// Update runs fn atomically: all of its writes commit, or none do.
	Update(ctx context.Context, fn func(tx Tx) error) error
	HealthCheck(ctx context.Context) error
	Close() error
}
