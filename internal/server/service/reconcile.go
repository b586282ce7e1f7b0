package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"unlockd/internal/server/ledger"

	"github.com/ethereum/go-ethereum/common"
)

// StatsDrift describes one stored creator aggregate that disagrees with the
// value recomputed from content items.
type StatsDrift struct {
	Creator  common.Address
	Field    string
	Stored   string
	Computed string
}

type creatorTotals struct {
	activeContent    uint64
	activeSales      uint64
	activeEarnings   *big.Int
	lifetimeSales    uint64
	lifetimeEarnings *big.Int
}

// ReconcileStats recomputes every creator's aggregates from a full scan of
// the content items and compares them with the stored accounts. It also
// checks balance + totalWithdrawn == lifetimeEarnings. Nothing is repaired.
func (s *LedgerService) ReconcileStats(ctx context.Context) ([]StatsDrift, error) {
	var drift []StatsDrift
	err := s.store.View(ctx, func(r ledger.Reader) error {
		count, err := r.ContentCount(ctx)
		if err != nil {
			return err
		}

		totals := make(map[common.Address]*creatorTotals)
		var order []common.Address
		for id := uint64(1); id <= count; id++ {
			item, err := r.Content(ctx, id)
			if err != nil {
				return err
			}
			t, ok := totals[item.Creator]
			if !ok {
				t = &creatorTotals{activeEarnings: new(big.Int), lifetimeEarnings: new(big.Int)}
				totals[item.Creator] = t
				order = append(order, item.Creator)
			}
			earned := ledger.CopyAmount(item.TotalEarnings)
			t.lifetimeSales += item.TotalSales
			t.lifetimeEarnings.Add(t.lifetimeEarnings, earned)
			if item.IsActive {
				t.activeContent++
				t.activeSales += item.TotalSales
				t.activeEarnings.Add(t.activeEarnings, earned)
			}
		}

		for _, creator := range order {
			t := totals[creator]
			acct, err := r.CreatorAccount(ctx, creator)
			if err != nil {
				if !errors.Is(err, ledger.ErrNotFound) {
					return err
				}
				acct = ledger.NewCreatorAccount(creator)
			}
			drift = append(drift, compareAccount(acct, t)...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drift, nil
}

func compareAccount(acct *ledger.CreatorAccount, t *creatorTotals) []StatsDrift {
	var out []StatsDrift
	checkUint := func(field string, stored, computed uint64) {
		if stored != computed {
			out = append(out, StatsDrift{
				Creator:  acct.Creator,
				Field:    field,
				Stored:   strconv.FormatUint(stored, 10),
				Computed: strconv.FormatUint(computed, 10),
			})
		}
	}
	checkAmount := func(field string, stored, computed *big.Int) {
		stored = ledger.CopyAmount(stored)
		if stored.Cmp(computed) != 0 {
			out = append(out, StatsDrift{
				Creator:  acct.Creator,
				Field:    field,
				Stored:   stored.String(),
				Computed: computed.String(),
			})
		}
	}

	checkUint("active_content", acct.ActiveContent, t.activeContent)
	checkUint("active_sales", acct.ActiveSales, t.activeSales)
	checkAmount("active_earnings", acct.ActiveEarnings, t.activeEarnings)
	checkUint("lifetime_sales", acct.LifetimeSales, t.lifetimeSales)
	checkAmount("lifetime_earnings", acct.LifetimeEarnings, t.lifetimeEarnings)

	settled := new(big.Int).Add(ledger.CopyAmount(acct.Balance), ledger.CopyAmount(acct.TotalWithdrawn))
	checkAmount("balance_plus_withdrawn", settled, ledger.CopyAmount(acct.LifetimeEarnings))
	return out
}

// StatsReconciler periodically runs ReconcileStats and logs any drift.
type StatsReconciler struct {
	ledger   *LedgerService
	interval time.Duration
	done     chan struct{}
}

// NewStatsReconciler creates a new reconciler.
func NewStatsReconciler(svc *LedgerService, interval time.Duration) *StatsReconciler {
	return &StatsReconciler{
		ledger:   svc,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the reconcile loop in a background goroutine.
func (sr *StatsReconciler) Start(ctx context.Context) {
	slog.Info("stats reconciler started", "interval", sr.interval)

	go func() {
		ticker := time.NewTicker(sr.interval)
		defer ticker.Stop()

		sr.runReconcile(ctx)

		for {
			select {
			case <-ticker.C:
				sr.runReconcile(ctx)
			case <-ctx.Done():
				slog.Info("stats reconciler stopping")
				close(sr.done)
				return
			}
		}
	}()
}

// Wait blocks until the reconciler has fully stopped.
func (sr *StatsReconciler) Wait() {
	<-sr.done
}

func (sr *StatsReconciler) runReconcile(ctx context.Context) int {
	start := time.Now()
	drift, err := sr.ledger.ReconcileStats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("stats reconcile failed", "error", err)
		}
		return 0
	}

	for _, d := range drift {
		slog.Warn("creator stats drift",
			"creator", d.Creator.Hex(),
			"field", d.Field,
			"stored", d.Stored,
			"computed", d.Computed,
		)
	}

	slog.Info("stats reconcile complete",
		"drift", len(drift),
		"duration", time.Since(start),
	)
	return len(drift)
}
