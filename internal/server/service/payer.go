package service

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Payer moves withdrawn earnings out of the ledger. It is only called after
// the creator's balance has already been zeroed and committed.
type Payer interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (reference string, err error)
}

// ReferencePayer settles nothing itself; it issues a unique keccak-256
// payout reference that downstream settlement reconciles against.
type ReferencePayer struct {
	nonce atomic.Uint64
	nowFn func() time.Time
}

// NewReferencePayer creates a payer that issues payout references.
func NewReferencePayer() *ReferencePayer {
	return &ReferencePayer{nowFn: time.Now}
}

// Transfer returns keccak256(to || amount || nonce || unix-nanos) as a hex string.
func (p *ReferencePayer) Transfer(ctx context.Context, to common.Address, amount *big.Int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], p.nonce.Add(1))
	binary.BigEndian.PutUint64(buf[8:], uint64(p.nowFn().UnixNano()))
	return crypto.Keccak256Hash(to.Bytes(), common.LeftPadBytes(amount.Bytes(), 32), buf[:]).Hex(), nil
}
