package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"unlockd/internal/server/ledger"

	"github.com/ethereum/go-ethereum/common"
)

var errStoreClosed = errors.New("store is closed")

type grantKey struct {
	buyer     common.Address
	contentID uint64
}

type memState struct {
	count       uint64
	contents    map[uint64]*ledger.ContentItem
	grants      map[grantKey]*ledger.AccessGrant
	creators    map[common.Address]*ledger.CreatorAccount
	creatorIdx  map[common.Address][]uint64
	buyerIdx    map[common.Address][]uint64
	withdrawals map[common.Address][]*ledger.Withdrawal
}

func newMemState() *memState {
	return &memState{
		contents:    make(map[uint64]*ledger.ContentItem),
		grants:      make(map[grantKey]*ledger.AccessGrant),
		creators:    make(map[common.Address]*ledger.CreatorAccount),
		creatorIdx:  make(map[common.Address][]uint64),
		buyerIdx:    make(map[common.Address][]uint64),
		withdrawals: make(map[common.Address][]*ledger.Withdrawal),
	}
}

// copy returns a state whose maps can be mutated without touching s.
// Records are never mutated in place, so sharing them is safe.
func (s *memState) copy() *memState {
	out := newMemState()
	out.count = s.count
	for k, v := range s.contents {
		out.contents[k] = v
	}
	for k, v := range s.grants {
		out.grants[k] = v
	}
	for k, v := range s.creators {
		out.creators[k] = v
	}
	for k, v := range s.creatorIdx {
		out.creatorIdx[k] = v
	}
	for k, v := range s.buyerIdx {
		out.buyerIdx[k] = v
	}
	for k, v := range s.withdrawals {
		out.withdrawals[k] = v
	}
	return out
}

// MemoryStore keeps the ledger in process memory. Update works on a copy of
// the state and swaps it in only when the callback succeeds.
type MemoryStore struct {
	mu     sync.RWMutex
	state  *memState
	closed bool
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// View runs fn against the current state under a read lock.
func (m *MemoryStore) View(ctx context.Context, fn func(r ledger.Reader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errStoreClosed
	}
	return fn(&memTx{state: m.state})
}

// Update runs fn against a private copy of the state and commits it on success.
func (m *MemoryStore) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errStoreClosed
	}
	staged := m.state.copy()
	if err := fn(&memTx{state: staged}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = staged
	return nil
}

// HealthCheck reports whether the store is still open.
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errStoreClosed
	}
	return nil
}

// Close drops the state.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.state = newMemState()
	return nil
}

type memTx struct {
	state *memState
}

func (t *memTx) ContentCount(ctx context.Context) (uint64, error) {
	return t.state.count, nil
}

func (t *memTx) Content(ctx context.Context, id uint64) (*ledger.ContentItem, error) {
	item, ok := t.state.contents[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return item.Clone(), nil
}

func (t *memTx) HasAccess(ctx context.Context, buyer common.Address, contentID uint64) (bool, error) {
	_, ok := t.state.grants[grantKey{buyer: buyer, contentID: contentID}]
	return ok, nil
}

func (t *memTx) CreatorAccount(ctx context.Context, creator common.Address) (*ledger.CreatorAccount, error) {
	acct, ok := t.state.creators[creator]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return acct.Clone(), nil
}

func (t *memTx) CreatorContentIDs(ctx context.Context, creator common.Address) ([]uint64, error) {
	return append([]uint64(nil), t.state.creatorIdx[creator]...), nil
}

func (t *memTx) BuyerContentIDs(ctx context.Context, buyer common.Address) ([]uint64, error) {
	return append([]uint64(nil), t.state.buyerIdx[buyer]...), nil
}

func (t *memTx) Withdrawals(ctx context.Context, creator common.Address) ([]*ledger.Withdrawal, error) {
	src := t.state.withdrawals[creator]
	out := make([]*ledger.Withdrawal, 0, len(src))
	for _, w := range src {
		c := *w
		c.Amount = ledger.CopyAmount(w.Amount)
		out = append(out, &c)
	}
	return out, nil
}

func (t *memTx) InsertContent(ctx context.Context, item *ledger.ContentItem) error {
	if item.ID != t.state.count+1 {
		return fmt.Errorf("content id %d is not next in sequence (count %d)", item.ID, t.state.count)
	}
	t.state.contents[item.ID] = item.Clone()
	t.state.count = item.ID
	idx := t.state.creatorIdx[item.Creator]
	t.state.creatorIdx[item.Creator] = append(append([]uint64(nil), idx...), item.ID)
	return nil
}

func (t *memTx) UpdateContent(ctx context.Context, item *ledger.ContentItem) error {
	if _, ok := t.state.contents[item.ID]; !ok {
		return ledger.ErrNotFound
	}
	t.state.contents[item.ID] = item.Clone()
	return nil
}

func (t *memTx) InsertGrant(ctx context.Context, grant *ledger.AccessGrant) error {
	key := grantKey{buyer: grant.Buyer, contentID: grant.ContentID}
	if _, ok := t.state.grants[key]; ok {
		return fmt.Errorf("grant for %s on content %d already exists", grant.Buyer.Hex(), grant.ContentID)
	}
	g := *grant
	g.AmountPaid = ledger.CopyAmount(grant.AmountPaid)
	t.state.grants[key] = &g
	idx := append([]uint64(nil), t.state.buyerIdx[grant.Buyer]...)
	pos, _ := slices.BinarySearch(idx, grant.ContentID)
	t.state.buyerIdx[grant.Buyer] = slices.Insert(idx, pos, grant.ContentID)
	return nil
}

func (t *memTx) PutCreatorAccount(ctx context.Context, account *ledger.CreatorAccount) error {
	t.state.creators[account.Creator] = account.Clone()
	return nil
}

func (t *memTx) InsertWithdrawal(ctx context.Context, w *ledger.Withdrawal) error {
	c := *w
	c.Amount = ledger.CopyAmount(w.Amount)
	list := t.state.withdrawals[w.Creator]
	t.state.withdrawals[w.Creator] = append(append([]*ledger.Withdrawal(nil), list...), &c)
	return nil
}
