package contractabi

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"unlockd/internal/server/ledger"
	"unlockd/internal/server/service"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrShortCalldata   = errors.New("calldata shorter than a selector")
	ErrUnknownSelector = errors.New("unknown function selector")
	ErrBadArguments    = errors.New("calldata does not match method inputs")
)

// RevertError is a ledger rejection, reported the way a reverted contract
// call would be.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return "execution reverted: " + e.Reason
}

// Ledger is the read side of the ledger service the codec dispatches to.
type Ledger interface {
	GetTotalContent(ctx context.Context) (uint64, error)
	GetContent(ctx context.Context, id uint64) (*ledger.ContentItem, error)
	CheckAccess(ctx context.Context, user common.Address, id uint64) (bool, error)
	GetCreatorStats(ctx context.Context, creator common.Address) (ledger.CreatorStats, error)
	GetCreatorContent(ctx context.Context, creator common.Address) ([]uint64, error)
	GetUserPurchases(ctx context.Context, buyer common.Address) ([]uint64, error)
	GetCreatorBalance(ctx context.Context, creator common.Address) (*big.Int, error)
}

// Codec decodes ABI calldata, runs the matching ledger read and encodes the
// result.
type Codec struct {
	abi    abi.ABI
	ledger Ledger
}

// NewCodec parses LedgerABI and binds it to l.
func NewCodec(l Ledger) (*Codec, error) {
	parsed, err := abi.JSON(strings.NewReader(LedgerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger ABI: %w", err)
	}
	return &Codec{abi: parsed, ledger: l}, nil
}

// ABI returns the parsed ABI.
func (c *Codec) ABI() abi.ABI {
	return c.abi
}

// Call executes one read call. Ledger rejections come back as *RevertError.
func (c *Codec) Call(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrShortCalldata
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %x", ErrUnknownSelector, data[:4])
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadArguments, method.Name, err)
	}

	out, err := c.dispatch(ctx, method.Name, args)
	if err != nil {
		return nil, asRevert(err)
	}
	packed, err := method.Outputs.Pack(out...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s result: %w", method.Name, err)
	}
	return packed, nil
}

func (c *Codec) dispatch(ctx context.Context, name string, args []interface{}) ([]interface{}, error) {
	switch name {
	case "getTotalContent":
		total, err := c.ledger.GetTotalContent(ctx)
		if err != nil {
			return nil, err
		}
		return []interface{}{new(big.Int).SetUint64(total)}, nil

	case "getContent":
		item, err := c.content(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return []interface{}{
			new(big.Int).SetUint64(item.ID),
			item.Title,
			item.Description,
			uint8(item.ContentType),
			item.IPFSHash,
			item.EmbedURL,
			item.Price,
			item.Creator,
			item.IsActive,
			big.NewInt(item.CreatedAt.Unix()),
			item.PreviewHash,
			item.TotalEarnings,
			new(big.Int).SetUint64(item.TotalSales),
		}, nil

	case "checkAccess", "hasAccess":
		user := args[0].(common.Address)
		id := args[1].(*big.Int)
		if !id.IsUint64() {
			return []interface{}{false}, nil
		}
		has, err := c.ledger.CheckAccess(ctx, user, id.Uint64())
		if err != nil {
			return nil, err
		}
		return []interface{}{has}, nil

	case "getCreatorStats":
		stats, err := c.ledger.GetCreatorStats(ctx, args[0].(common.Address))
		if err != nil {
			return nil, err
		}
		return []interface{}{
			stats.TotalEarnings,
			new(big.Int).SetUint64(stats.TotalSales),
			new(big.Int).SetUint64(stats.ActiveContent),
			stats.LifetimeEarnings,
		}, nil

	case "getUserContent":
		ids, err := c.ledger.GetCreatorContent(ctx, args[0].(common.Address))
		if err != nil {
			return nil, err
		}
		return []interface{}{toWords(ids)}, nil

	case "getUserPurchases":
		ids, err := c.ledger.GetUserPurchases(ctx, args[0].(common.Address))
		if err != nil {
			return nil, err
		}
		return []interface{}{toWords(ids)}, nil

	case "getCreatorEarnings":
		balance, err := c.ledger.GetCreatorBalance(ctx, args[0].(common.Address))
		if err != nil {
			return nil, err
		}
		return []interface{}{balance}, nil

	case "pricePerContent":
		item, err := c.content(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return []interface{}{item.Price}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSelector, name)
}

func (c *Codec) content(ctx context.Context, arg interface{}) (*ledger.ContentItem, error) {
	id := arg.(*big.Int)
	if !id.IsUint64() {
		return nil, service.ErrInvalidReference
	}
	return c.ledger.GetContent(ctx, id.Uint64())
}

func toWords(ids []uint64) []*big.Int {
	out := make([]*big.Int, len(ids))
	for i, id := range ids {
		out[i] = new(big.Int).SetUint64(id)
	}
	return out
}

var revertible = []error{
	service.ErrInvalidReference,
	service.ErrInsufficientPayment,
	service.ErrUnauthorized,
	service.ErrNoFunds,
	service.ErrAlreadyGranted,
	service.ErrContentInactive,
	service.ErrInvalidContentType,
	service.ErrInvalidAmount,
}

func asRevert(err error) error {
	for _, target := range revertible {
		if errors.Is(err, target) {
			return &RevertError{Reason: target.Error()}
		}
	}
	return err
}
