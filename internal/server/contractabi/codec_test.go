package contractabi

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"unlockd/internal/server/ledger"
	"unlockd/internal/server/service"
	"unlockd/internal/server/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	creator = common.HexToAddress("0x00000000000000000000000000000000000c0de1")
	fan     = common.HexToAddress("0x0000000000000000000000000000000000000f01")
)

func newTestCodec(t *testing.T) (*Codec, *service.LedgerService) {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	svc := service.NewLedgerService(store, nil, nil)
	svc.SetNowFunc(func() time.Time { return time.Unix(1700000000, 0) })

	codec, err := NewCodec(svc)
	require.NoError(t, err)
	return codec, svc
}

func call(t *testing.T, c *Codec, method string, args ...interface{}) ([]interface{}, error) {
	t.Helper()
	data, err := c.ABI().Pack(method, args...)
	require.NoError(t, err)
	out, err := c.Call(context.Background(), data)
	if err != nil {
		return nil, err
	}
	values, err := c.ABI().Unpack(method, out)
	require.NoError(t, err)
	return values, nil
}

func TestCodec_Reads(t *testing.T) {
	ctx := context.Background()
	codec, svc := newTestCodec(t)

	_, err := svc.CreateContent(ctx, creator, service.CreateContentInput{
		Title:       "Mixtape",
		Description: "Side A",
		ContentType: ledger.ContentTypeAudio,
		IPFSHash:    "QmTape",
		PreviewHash: "QmPreview",
		Price:       big.NewInt(2500),
	})
	require.NoError(t, err)
	_, err = svc.PurchaseAccess(ctx, fan, 1, big.NewInt(2500))
	require.NoError(t, err)

	t.Run("getTotalContent", func(t *testing.T) {
		out, err := call(t, codec, "getTotalContent")
		require.NoError(t, err)
		require.Equal(t, int64(1), out[0].(*big.Int).Int64())
	})

	t.Run("getContent flat layout", func(t *testing.T) {
		out, err := call(t, codec, "getContent", big.NewInt(1))
		require.NoError(t, err)
		require.Len(t, out, 13)
		require.Equal(t, int64(1), out[0].(*big.Int).Int64())
		require.Equal(t, "Mixtape", out[1])
		require.Equal(t, "Side A", out[2])
		require.Equal(t, uint8(ledger.ContentTypeAudio), out[3])
		require.Equal(t, "QmTape", out[4])
		require.Equal(t, "", out[5])
		require.Equal(t, int64(2500), out[6].(*big.Int).Int64())
		require.Equal(t, creator, out[7])
		require.Equal(t, true, out[8])
		require.Equal(t, int64(1700000000), out[9].(*big.Int).Int64())
		require.Equal(t, "QmPreview", out[10])
		require.Equal(t, int64(2500), out[11].(*big.Int).Int64())
		require.Equal(t, int64(1), out[12].(*big.Int).Int64())
	})

	t.Run("checkAccess and hasAccess", func(t *testing.T) {
		for _, method := range []string{"checkAccess", "hasAccess"} {
			out, err := call(t, codec, method, fan, big.NewInt(1))
			require.NoError(t, err)
			require.Equal(t, true, out[0])

			out, err = call(t, codec, method, creator, big.NewInt(1))
			require.NoError(t, err)
			require.Equal(t, false, out[0])
		}

		huge := new(big.Int).Lsh(big.NewInt(1), 200)
		out, err := call(t, codec, "checkAccess", fan, huge)
		require.NoError(t, err)
		require.Equal(t, false, out[0])
	})

	t.Run("getCreatorStats", func(t *testing.T) {
		out, err := call(t, codec, "getCreatorStats", creator)
		require.NoError(t, err)
		require.Len(t, out, 4)
		require.Equal(t, int64(2500), out[0].(*big.Int).Int64())
		require.Equal(t, int64(1), out[1].(*big.Int).Int64())
		require.Equal(t, int64(1), out[2].(*big.Int).Int64())
		require.Equal(t, int64(2500), out[3].(*big.Int).Int64())
	})

	t.Run("index reads", func(t *testing.T) {
		out, err := call(t, codec, "getUserContent", creator)
		require.NoError(t, err)
		ids := out[0].([]*big.Int)
		require.Len(t, ids, 1)
		require.Equal(t, int64(1), ids[0].Int64())

		out, err = call(t, codec, "getUserPurchases", fan)
		require.NoError(t, err)
		require.Len(t, out[0].([]*big.Int), 1)
	})

	t.Run("earnings and price", func(t *testing.T) {
		out, err := call(t, codec, "getCreatorEarnings", creator)
		require.NoError(t, err)
		require.Equal(t, int64(2500), out[0].(*big.Int).Int64())

		out, err = call(t, codec, "pricePerContent", big.NewInt(1))
		require.NoError(t, err)
		require.Equal(t, int64(2500), out[0].(*big.Int).Int64())
	})
}

func TestCodec_Errors(t *testing.T) {
	codec, _ := newTestCodec(t)
	ctx := context.Background()

	t.Run("missing content reverts", func(t *testing.T) {
		_, err := call(t, codec, "getContent", big.NewInt(5))
		var revert *RevertError
		require.True(t, errors.As(err, &revert))
		require.Equal(t, service.ErrInvalidReference.Error(), revert.Reason)
		require.Contains(t, err.Error(), "execution reverted")
	})

	t.Run("short calldata", func(t *testing.T) {
		_, err := codec.Call(ctx, []byte{0x01, 0x02})
		require.ErrorIs(t, err, ErrShortCalldata)
	})

	t.Run("unknown selector", func(t *testing.T) {
		_, err := codec.Call(ctx, []byte{0xde, 0xad, 0xbe, 0xef})
		require.ErrorIs(t, err, ErrUnknownSelector)
	})

	t.Run("truncated arguments", func(t *testing.T) {
		data, err := codec.ABI().Pack("getContent", big.NewInt(1))
		require.NoError(t, err)
		_, err = codec.Call(ctx, data[:10])
		require.ErrorIs(t, err, ErrBadArguments)
	})
}
