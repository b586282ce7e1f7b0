package database

import (
	"context"
	"errors"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"unlockd/internal/server/ledger"

	"github.com/ethereum/go-ethereum/common"
)

func TestMigrations_Ordered(t *testing.T) {
	seen := make(map[string]bool)
	prev := ""
	for _, m := range migrations {
		if seen[m.Version] {
			t.Fatalf("duplicate migration version %s", m.Version)
		}
		seen[m.Version] = true
		if m.Version <= prev {
			t.Errorf("migration %s is out of order after %s", m.Version, prev)
		}
		prev = m.Version
		if strings.TrimSpace(m.SQL) == "" {
			t.Errorf("migration %s has no SQL", m.Version)
		}
	}
}

func TestNumeric(t *testing.T) {
	t.Run("nil encodes as zero", func(t *testing.T) {
		n := numeric(nil)
		if !n.Valid || n.Int.Sign() != 0 || n.Exp != 0 {
			t.Errorf("unexpected numeric: %+v", n)
		}
	})

	t.Run("copies the value", func(t *testing.T) {
		v := big.NewInt(42)
		n := numeric(v)
		v.SetInt64(7)
		if n.Int.Int64() != 42 {
			t.Errorf("numeric shares storage with its input: %s", n.Int)
		}
	})
}

// openTestStore connects to TEST_DATABASE_URL and resets the ledger tables.
// Tests using it are skipped when the variable is unset.
func openTestStore(t *testing.T) *LedgerStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, url)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := db.RunMigrations(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	if _, err := db.Pool.Exec(ctx, "TRUNCATE withdrawals, creator_accounts, access_grants, contents"); err != nil {
		t.Fatalf("failed to reset tables: %v", err)
	}
	store := NewLedgerStore(db)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLedgerStore_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	creator := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	buyer := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	huge, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	created := time.Unix(1700000000, 0).UTC()

	err := store.Update(ctx, func(tx ledger.Tx) error {
		item := &ledger.ContentItem{
			ID:            1,
			Title:         "Course",
			Description:   "Full course",
			ContentType:   ledger.ContentTypeZip,
			IPFSHash:      "QmCourse",
			Price:         huge,
			Creator:       creator,
			IsActive:      true,
			CreatedAt:     created,
			TotalEarnings: new(big.Int),
		}
		if err := tx.InsertContent(ctx, item); err != nil {
			return err
		}
		if err := tx.InsertGrant(ctx, &ledger.AccessGrant{Buyer: buyer, ContentID: 1, AmountPaid: huge, GrantedAt: created}); err != nil {
			return err
		}
		acct := ledger.NewCreatorAccount(creator)
		acct.Balance = huge
		return tx.PutCreatorAccount(ctx, acct)
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	err = store.View(ctx, func(r ledger.Reader) error {
		item, err := r.Content(ctx, 1)
		if err != nil {
			return err
		}
		if item.Price.Cmp(huge) != 0 {
			t.Errorf("price did not survive NUMERIC round trip: %s", item.Price)
		}
		if item.Creator != creator || item.ContentType != ledger.ContentTypeZip {
			t.Errorf("unexpected item: %+v", item)
		}
		if _, err := r.Content(ctx, 2); !errors.Is(err, ledger.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		has, err := r.HasAccess(ctx, buyer, 1)
		if err != nil || !has {
			t.Errorf("expected buyer access, got %v %v", has, err)
		}

		acct, err := r.CreatorAccount(ctx, creator)
		if err != nil {
			return err
		}
		if acct.Balance.Cmp(huge) != 0 || !acct.LastWithdrawalAt.IsZero() {
			t.Errorf("unexpected account: %+v", acct)
		}

		ids, err := r.BuyerContentIDs(ctx, buyer)
		if err != nil || len(ids) != 1 || ids[0] != 1 {
			t.Errorf("unexpected buyer index: %v %v", ids, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}
}
