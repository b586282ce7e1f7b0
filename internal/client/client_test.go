package client

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"unlockd/internal/server/api"
	"unlockd/internal/server/contractabi"
	"unlockd/internal/server/service"
	"unlockd/internal/server/storage"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) string {
	t.Helper()
	store := storage.NewMemoryStore()
	svc := service.NewLedgerService(store, nil, nil)
	codec, err := contractabi.NewCodec(svc)
	require.NoError(t, err)

	auth := api.NewAuthenticator(api.AuthConfig{
		Secret: "client-test-secret-0123456789abcdef",
		TTL:    time.Hour,
	})
	e := api.SetupRouter(api.NewHandler(svc, store, auth, codec), api.RouterConfig{Auth: auth})

	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		srv.Close()
		_ = store.Close()
	})
	return srv.URL
}

func TestClient_EndToEnd(t *testing.T) {
	ctx := context.Background()
	baseURL := newTestAPI(t)

	creatorKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	fanKey, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	fanAddr := ethcrypto.PubkeyToAddress(fanKey.PublicKey)
	creatorAddr := ethcrypto.PubkeyToAddress(creatorKey.PublicKey)

	creator := New(baseURL+"/", "")
	token, err := creator.Login(ctx, creatorKey)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, token, creator.Token())

	item, err := creator.CreateContent(ctx, CreateContentRequest{
		Title:       "Field notes",
		ContentType: "PDF",
		IPFSHash:    "QmNotes",
		PriceWei:    "300",
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, item.ID)
	require.Equal(t, creatorAddr.Hex(), item.Creator)

	fan := New(baseURL, "")
	_, err = fan.Login(ctx, fanKey)
	require.NoError(t, err)

	has, err := fan.CheckAccess(ctx, fanAddr, item.ID)
	require.NoError(t, err)
	require.False(t, has)

	grant, err := fan.Purchase(ctx, item.ID, big.NewInt(300))
	require.NoError(t, err)
	require.Equal(t, "300", grant.AmountPaidWei)

	has, err = fan.CheckAccess(ctx, fanAddr, item.ID)
	require.NoError(t, err)
	require.True(t, has)

	got, err := fan.GetContent(ctx, item.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, got.TotalSales)

	stats, err := fan.CreatorStats(ctx, creatorAddr)
	require.NoError(t, err)
	require.Equal(t, "300", stats.TotalEarningsWei)

	w, err := creator.Withdraw(ctx)
	require.NoError(t, err)
	require.Equal(t, "300", w.AmountWei)
}

func TestClient_APIError(t *testing.T) {
	ctx := context.Background()
	c := New(newTestAPI(t), "")

	_, err := c.GetContent(ctx, 99)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "content not found", apiErr.Message)

	_, err = c.Withdraw(ctx)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
}
