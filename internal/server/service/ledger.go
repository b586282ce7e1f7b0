package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"unlockd/internal/server/ledger"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// CreateContentInput carries the creator-supplied fields of a new content item.
type CreateContentInput struct {
	Title       string
	Description string
	ContentType ledger.ContentType
	IPFSHash    string
	EmbedURL    string
	PreviewHash string
	Price       *big.Int
}

// ListFilter narrows ListContent. A nil Creator scans every id; a set
// Creator reads the creator index instead.
type ListFilter struct {
	Creator         *common.Address
	ContentType     *ledger.ContentType
	IncludeInactive bool
	Offset          int
	Limit           int
}

// ContentPage is one page of ListContent results. Total counts every match,
// not just the returned page.
type ContentPage struct {
	Items  []*ledger.ContentItem
	Total  int
	Offset int
	Limit  int
}

// LedgerService is the content registry and access ledger. Writes are
// serialized through writeMu; reads go straight to store snapshots.
type LedgerService struct {
	store   ledger.Store
	payer   Payer
	emitter Emitter
	nowFn   func() time.Time
	writeMu sync.Mutex
}

// NewLedgerService creates a ledger service over store.
func NewLedgerService(store ledger.Store, payer Payer, emitter Emitter) *LedgerService {
	if payer == nil {
		payer = NewReferencePayer()
	}
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	return &LedgerService{
		store:   store,
		payer:   payer,
		emitter: emitter,
		nowFn:   time.Now,
	}
}

// SetNowFunc overrides the clock, for deterministic tests.
func (s *LedgerService) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.nowFn = now
}

func (s *LedgerService) now() time.Time {
	return s.nowFn().UTC()
}

func (s *LedgerService) update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store.Update(ctx, fn)
}

func loadContent(ctx context.Context, r ledger.Reader, id uint64) (*ledger.ContentItem, error) {
	item, err := r.Content(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrInvalidReference
		}
		return nil, err
	}
	return item, nil
}

func loadAccount(ctx context.Context, r ledger.Reader, creator common.Address) (*ledger.CreatorAccount, error) {
	acct, err := r.CreatorAccount(ctx, creator)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.NewCreatorAccount(creator), nil
		}
		return nil, err
	}
	return acct, nil
}

// CreateContent registers a new content item owned by creator and returns
// it with its freshly assigned sequential id.
func (s *LedgerService) CreateContent(ctx context.Context, creator common.Address, in CreateContentInput) (*ledger.ContentItem, error) {
	if creator == (common.Address{}) {
		return nil, ErrUnauthorized
	}
	if !in.ContentType.Valid() {
		return nil, ErrInvalidContentType
	}
	if err := ledger.CheckAmount(in.Price); err != nil {
		return nil, fmt.Errorf("%w: price: %v", ErrInvalidAmount, err)
	}

	var created *ledger.ContentItem
	err := s.update(ctx, func(tx ledger.Tx) error {
		count, err := tx.ContentCount(ctx)
		if err != nil {
			return err
		}
		item := &ledger.ContentItem{
			ID:            count + 1,
			Title:         in.Title,
			Description:   in.Description,
			ContentType:   in.ContentType,
			IPFSHash:      in.IPFSHash,
			EmbedURL:      in.EmbedURL,
			PreviewHash:   in.PreviewHash,
			Price:         ledger.CopyAmount(in.Price),
			Creator:       creator,
			IsActive:      true,
			CreatedAt:     s.now(),
			TotalEarnings: new(big.Int),
		}
		if err := tx.InsertContent(ctx, item); err != nil {
			return err
		}
		acct, err := loadAccount(ctx, tx, creator)
		if err != nil {
			return err
		}
		acct.ActiveContent++
		if err := tx.PutCreatorAccount(ctx, acct); err != nil {
			return err
		}
		created = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, contentCreatedEvent(created))
	slog.Info("content created",
		"id", created.ID,
		"creator", creator.Hex(),
		"content_type", created.ContentType.String(),
		"price", created.Price.String(),
	)
	return created.Clone(), nil
}

// PurchaseAccess grants buyer access to a content item in exchange for value.
// value must cover the price at the time of the call; the full value is
// credited to the creator.
func (s *LedgerService) PurchaseAccess(ctx context.Context, buyer common.Address, contentID uint64, value *big.Int) (*ledger.AccessGrant, error) {
	if buyer == (common.Address{}) {
		return nil, ErrUnauthorized
	}
	if value == nil {
		value = new(big.Int)
	}
	if err := ledger.CheckAmount(value); err != nil {
		return nil, fmt.Errorf("%w: value: %v", ErrInvalidAmount, err)
	}

	var (
		grant   *ledger.AccessGrant
		creator common.Address
	)
	err := s.update(ctx, func(tx ledger.Tx) error {
		item, err := loadContent(ctx, tx, contentID)
		if err != nil {
			return err
		}
		if !item.IsActive {
			return ErrContentInactive
		}
		has, err := tx.HasAccess(ctx, buyer, contentID)
		if err != nil {
			return err
		}
		if has {
			return ErrAlreadyGranted
		}
		if value.Cmp(item.Price) < 0 {
			return fmt.Errorf("%w: paid %s, price %s", ErrInsufficientPayment, value, item.Price)
		}

		acct, err := loadAccount(ctx, tx, item.Creator)
		if err != nil {
			return err
		}
		if err := credit(item, acct, value); err != nil {
			return err
		}

		g := &ledger.AccessGrant{
			Buyer:      buyer,
			ContentID:  contentID,
			AmountPaid: ledger.CopyAmount(value),
			GrantedAt:  s.now(),
		}
		if err := tx.UpdateContent(ctx, item); err != nil {
			return err
		}
		if err := tx.InsertGrant(ctx, g); err != nil {
			return err
		}
		if err := tx.PutCreatorAccount(ctx, acct); err != nil {
			return err
		}
		grant = g
		creator = item.Creator
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, accessPurchasedEvent(grant, creator.Hex()))
	slog.Info("access purchased",
		"content_id", contentID,
		"buyer", buyer.Hex(),
		"creator", creator.Hex(),
		"amount", value.String(),
	)
	return grant, nil
}

// credit applies one sale of value to the item totals and the creator account.
func credit(item *ledger.ContentItem, acct *ledger.CreatorAccount, value *big.Int) error {
	var err error
	if item.TotalEarnings, err = ledger.AddAmount(item.TotalEarnings, value); err != nil {
		return fmt.Errorf("%w: content earnings: %v", ErrInvalidAmount, err)
	}
	if acct.ActiveEarnings, err = ledger.AddAmount(acct.ActiveEarnings, value); err != nil {
		return fmt.Errorf("%w: active earnings: %v", ErrInvalidAmount, err)
	}
	if acct.LifetimeEarnings, err = ledger.AddAmount(acct.LifetimeEarnings, value); err != nil {
		return fmt.Errorf("%w: lifetime earnings: %v", ErrInvalidAmount, err)
	}
	if acct.Balance, err = ledger.AddAmount(acct.Balance, value); err != nil {
		return fmt.Errorf("%w: balance: %v", ErrInvalidAmount, err)
	}
	item.TotalSales++
	acct.ActiveSales++
	acct.LifetimeSales++
	return nil
}

// CheckAccess reports whether user holds a grant for contentID. Unknown
// users and unknown content ids yield false, not an error.
func (s *LedgerService) CheckAccess(ctx context.Context, user common.Address, contentID uint64) (bool, error) {
	var has bool
	err := s.store.View(ctx, func(r ledger.Reader) error {
		var err error
		has, err = r.HasAccess(ctx, user, contentID)
		return err
	})
	return has, err
}

// GetContent returns the item with the given id, active or not.
// Ids outside [1, GetTotalContent()] yield ErrInvalidReference.
func (s *LedgerService) GetContent(ctx context.Context, contentID uint64) (*ledger.ContentItem, error) {
	var item *ledger.ContentItem
	err := s.store.View(ctx, func(r ledger.Reader) error {
		var err error
		item, err = loadContent(ctx, r, contentID)
		return err
	})
	return item, err
}

// GetTotalContent returns the number of content items ever created.
func (s *LedgerService) GetTotalContent(ctx context.Context) (uint64, error) {
	var count uint64
	err := s.store.View(ctx, func(r ledger.Reader) error {
		var err error
		count, err = r.ContentCount(ctx)
		return err
	})
	return count, err
}

// GetCreatorStats returns the aggregated stats for creator; unknown
// creators get zero stats.
func (s *LedgerService) GetCreatorStats(ctx context.Context, creator common.Address) (ledger.CreatorStats, error) {
	var stats ledger.CreatorStats
	err := s.store.View(ctx, func(r ledger.Reader) error {
		acct, err := loadAccount(ctx, r, creator)
		if err != nil {
			return err
		}
		stats = acct.Stats()
		return nil
	})
	if err != nil {
		return ledger.ZeroStats(), err
	}
	return stats, nil
}

// GetCreatorBalance returns creator's withdrawable balance.
func (s *LedgerService) GetCreatorBalance(ctx context.Context, creator common.Address) (*big.Int, error) {
	balance := new(big.Int)
	err := s.store.View(ctx, func(r ledger.Reader) error {
		acct, err := loadAccount(ctx, r, creator)
		if err != nil {
			return err
		}
		balance = ledger.CopyAmount(acct.Balance)
		return nil
	})
	return balance, err
}

// WithdrawEarnings pays out the creator's whole balance. The balance is
// zeroed and committed before the payer is invoked; a failed transfer puts
// it back.
func (s *LedgerService) WithdrawEarnings(ctx context.Context, creator common.Address) (*ledger.Withdrawal, error) {
	if creator == (common.Address{}) {
		return nil, ErrUnauthorized
	}

	var (
		amount   *big.Int
		prevLast time.Time
		now      = s.now()
	)
	err := s.update(ctx, func(tx ledger.Tx) error {
		acct, err := tx.CreatorAccount(ctx, creator)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return ErrNoFunds
			}
			return err
		}
		if acct.Balance == nil || acct.Balance.Sign() == 0 {
			return ErrNoFunds
		}
		amount = ledger.CopyAmount(acct.Balance)
		prevLast = acct.LastWithdrawalAt
		if acct.TotalWithdrawn, err = ledger.AddAmount(acct.TotalWithdrawn, amount); err != nil {
			return fmt.Errorf("%w: total withdrawn: %v", ErrInvalidAmount, err)
		}
		acct.Balance = new(big.Int)
		acct.LastWithdrawalAt = now
		return tx.PutCreatorAccount(ctx, acct)
	})
	if err != nil {
		return nil, err
	}

	// The zeroed balance is committed; from here on the store must be
	// updated even if the caller goes away.
	bg := context.WithoutCancel(ctx)

	ref, err := s.payer.Transfer(ctx, creator, amount)
	if err != nil {
		if restoreErr := s.restoreBalance(bg, creator, amount, prevLast); restoreErr != nil {
			slog.Error("failed to restore balance after failed transfer",
				"creator", creator.Hex(),
				"amount", amount.String(),
				"error", restoreErr,
			)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	w := &ledger.Withdrawal{
		Creator:   creator,
		Amount:    amount,
		Reference: ref,
		CreatedAt: now,
	}
	if err := s.update(bg, func(tx ledger.Tx) error { return tx.InsertWithdrawal(bg, w) }); err != nil {
		// Funds have moved; the payout reference in the log is the record of last resort.
		slog.Error("failed to record withdrawal",
			"creator", creator.Hex(),
			"amount", amount.String(),
			"reference", ref,
			"error", err,
		)
	}

	s.emitter.Emit(ctx, earningsWithdrawnEvent(w))
	slog.Info("earnings withdrawn", "creator", creator.Hex(), "amount", amount.String(), "reference", ref)
	return w, nil
}

func (s *LedgerService) restoreBalance(ctx context.Context, creator common.Address, amount *big.Int, prevLast time.Time) error {
	return s.update(ctx, func(tx ledger.Tx) error {
		acct, err := loadAccount(ctx, tx, creator)
		if err != nil {
			return err
		}
		if acct.Balance, err = ledger.AddAmount(acct.Balance, amount); err != nil {
			return err
		}
		if acct.TotalWithdrawn, err = ledger.SubAmount(acct.TotalWithdrawn, amount); err != nil {
			return err
		}
		acct.LastWithdrawalAt = prevLast
		return tx.PutCreatorAccount(ctx, acct)
	})
}

// SetPrice changes the price future purchases must pay. Only the creator may
// reprice, and only while the item is active.
func (s *LedgerService) SetPrice(ctx context.Context, caller common.Address, contentID uint64, price *big.Int) (*ledger.ContentItem, error) {
	if err := ledger.CheckAmount(price); err != nil {
		return nil, fmt.Errorf("%w: price: %v", ErrInvalidAmount, err)
	}

	var (
		updated  *ledger.ContentItem
		oldPrice string
	)
	err := s.update(ctx, func(tx ledger.Tx) error {
		item, err := loadContent(ctx, tx, contentID)
		if err != nil {
			return err
		}
		if caller == (common.Address{}) || caller != item.Creator {
			return ErrUnauthorized
		}
		if !item.IsActive {
			return ErrContentInactive
		}
		oldPrice = item.Price.String()
		item.Price = ledger.CopyAmount(price)
		if err := tx.UpdateContent(ctx, item); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emitter.Emit(ctx, priceUpdatedEvent(updated, oldPrice, s.now()))
	slog.Info("content price updated", "id", contentID, "old_price", oldPrice, "new_price", updated.Price.String())
	return updated.Clone(), nil
}

// DeactivateContent removes an item from discovery and purchase for good.
// The creator may deactivate their own items; privileged callers may
// deactivate any. Lifetime figures are left untouched.
func (s *LedgerService) DeactivateContent(ctx context.Context, caller common.Address, contentID uint64, privileged bool) (*ledger.ContentItem, error) {
	var updated *ledger.ContentItem
	err := s.update(ctx, func(tx ledger.Tx) error {
		item, err := loadContent(ctx, tx, contentID)
		if err != nil {
			return err
		}
		if !privileged && (caller == (common.Address{}) || caller != item.Creator) {
			return ErrUnauthorized
		}
		if !item.IsActive {
			return ErrContentInactive
		}
		item.IsActive = false

		acct, err := loadAccount(ctx, tx, item.Creator)
		if err != nil {
			return err
		}
		if acct.ActiveContent > 0 {
			acct.ActiveContent--
		}
		if acct.ActiveSales >= item.TotalSales {
			acct.ActiveSales -= item.TotalSales
		} else {
			acct.ActiveSales = 0
		}
		if acct.ActiveEarnings, err = ledger.SubAmount(acct.ActiveEarnings, item.TotalEarnings); err != nil {
			acct.ActiveEarnings = new(big.Int)
		}

		if err := tx.UpdateContent(ctx, item); err != nil {
			return err
		}
		if err := tx.PutCreatorAccount(ctx, acct); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	by := caller.Hex()
	if privileged {
		by = "admin"
	}
	s.emitter.Emit(ctx, contentDeactivatedEvent(updated, by, s.now()))
	slog.Info("content deactivated", "id", contentID, "by", by)
	return updated.Clone(), nil
}

// GetCreatorContent returns the ids of every item creator has created.
func (s *LedgerService) GetCreatorContent(ctx context.Context, creator common.Address) ([]uint64, error) {
	var ids []uint64
	err := s.store.View(ctx, func(r ledger.Reader) error {
		var err error
		ids, err = r.CreatorContentIDs(ctx, creator)
		return err
	})
	return ids, err
}

// GetUserPurchases returns the ids of every item buyer holds access to.
func (s *LedgerService) GetUserPurchases(ctx context.Context, buyer common.Address) ([]uint64, error) {
	var ids []uint64
	err := s.store.View(ctx, func(r ledger.Reader) error {
		var err error
		ids, err = r.BuyerContentIDs(ctx, buyer)
		return err
	})
	return ids, err
}

// ListWithdrawals returns creator's payout history, oldest first.
func (s *LedgerService) ListWithdrawals(ctx context.Context, creator common.Address) ([]*ledger.Withdrawal, error) {
	var list []*ledger.Withdrawal
	err := s.store.View(ctx, func(r ledger.Reader) error {
		var err error
		list, err = r.Withdrawals(ctx, creator)
		return err
	})
	return list, err
}

// ListContent returns a page of items matching filter in ascending id order.
func (s *LedgerService) ListContent(ctx context.Context, filter ListFilter) (*ContentPage, error) {
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	page := &ContentPage{Items: []*ledger.ContentItem{}, Offset: filter.Offset, Limit: filter.Limit}
	err := s.store.View(ctx, func(r ledger.Reader) error {
		ids, err := candidateIDs(ctx, r, filter.Creator)
		if err != nil {
			return err
		}
		for _, id := range ids {
			item, err := r.Content(ctx, id)
			if err != nil {
				if errors.Is(err, ledger.ErrNotFound) {
					continue
				}
				return err
			}
			if !filter.IncludeInactive && !item.IsActive {
				continue
			}
			if filter.ContentType != nil && item.ContentType != *filter.ContentType {
				continue
			}
			if page.Total >= filter.Offset && len(page.Items) < filter.Limit {
				page.Items = append(page.Items, item)
			}
			page.Total++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func candidateIDs(ctx context.Context, r ledger.Reader, creator *common.Address) ([]uint64, error) {
	if creator != nil {
		return r.CreatorContentIDs(ctx, *creator)
	}
	count, err := r.ContentCount(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, count)
	for id := uint64(1); id <= count; id++ {
		ids = append(ids, id)
	}
	return ids, nil
}
