package ledger

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// ErrAmountOutOfRange is returned when an amount is negative or does not fit
// in an unsigned 256-bit word.
var ErrAmountOutOfRange = errors.New("amount out of uint256 range")

// CopyAmount returns an independent copy of v, treating nil as zero.
func CopyAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// CheckAmount validates that v is a non-negative uint256 value.
func CheckAmount(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return ErrAmountOutOfRange
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return ErrAmountOutOfRange
	}
	return nil
}

// AddAmount returns a+b, failing if either operand or the sum leaves the
// uint256 range.
func AddAmount(a, b *big.Int) (*big.Int, error) {
	x, err := toWord(a)
	if err != nil {
		return nil, err
	}
	y, err := toWord(b)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrAmountOutOfRange
	}
	return sum.ToBig(), nil
}

// SubAmount returns a-b, failing on underflow.
func SubAmount(a, b *big.Int) (*big.Int, error) {
	x, err := toWord(a)
	if err != nil {
		return nil, err
	}
	y, err := toWord(b)
	if err != nil {
		return nil, err
	}
	diff, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrAmountOutOfRange
	}
	return diff.ToBig(), nil
}

// ParseAmount parses a base-10 wei string.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("invalid decimal amount")
	}
	if err := CheckAmount(v); err != nil {
		return nil, err
	}
	return v, nil
}

func toWord(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrAmountOutOfRange
	}
	w, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrAmountOutOfRange
	}
	return w, nil
}
