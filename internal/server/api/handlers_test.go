package api

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"unlockd/internal/server/contractabi"
	"unlockd/internal/server/metrics"
	"unlockd/internal/server/service"
	"unlockd/internal/server/storage"
	"unlockd/internal/walletauth"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret     = "0123456789abcdef0123456789abcdef"
	testAdminToken = "let-me-in"
)

type testServer struct {
	e    *echo.Echo
	svc  *service.LedgerService
	auth *Authenticator
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()

	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	svc := service.NewLedgerService(store, nil, nil)

	adminHash, err := bcrypt.GenerateFromPassword([]byte(testAdminToken), bcrypt.MinCost)
	require.NoError(t, err)
	auth := NewAuthenticator(AuthConfig{
		Secret:         testSecret,
		Issuer:         "unlockd-test",
		TTL:            time.Hour,
		AdminTokenHash: string(adminHash),
	})

	codec, err := contractabi.NewCodec(svc)
	require.NoError(t, err)

	handler := NewHandler(svc, store, auth, codec)
	e := SetupRouter(handler, RouterConfig{
		Auth:    auth,
		Limiter: limiter,
		Metrics: metrics.New("unlockd_test"),
	})
	return &testServer{e: e, svc: svc, auth: auth}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func (s *testServer) tokenFor(t *testing.T, addr common.Address) map[string]string {
	t.Helper()
	token, _, err := s.auth.IssueToken(addr)
	require.NoError(t, err)
	return map[string]string{echo.HeaderAuthorization: "Bearer " + token}
}

func newWallet(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return key, ethcrypto.PubkeyToAddress(key.PublicKey)
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t, nil)
	key, addr := newWallet(t)

	ts := time.Now().Unix()
	sig, err := walletauth.Sign(key, walletauth.Message(addr, ts))
	require.NoError(t, err)

	body := `{"address":"` + addr.Hex() + `","timestamp":` + big.NewInt(ts).String() + `,"signature":"` + hexutil.Encode(sig) + `"}`
	code, resp := srv.do(t, http.MethodPost, "/api/auth/login", body, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, addr.Hex(), resp["address"])

	token, ok := resp["token"].(string)
	require.True(t, ok)
	parsed, err := srv.auth.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, addr, parsed)

	t.Run("signature from another key", func(t *testing.T) {
		other, _ := newWallet(t)
		sig, err := walletauth.Sign(other, walletauth.Message(addr, ts))
		require.NoError(t, err)
		body := `{"address":"` + addr.Hex() + `","timestamp":` + big.NewInt(ts).String() + `,"signature":"` + hexutil.Encode(sig) + `"}`
		code, _ := srv.do(t, http.MethodPost, "/api/auth/login", body, nil)
		require.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		old := time.Now().Add(-time.Hour).Unix()
		sig, err := walletauth.Sign(key, walletauth.Message(addr, old))
		require.NoError(t, err)
		body := `{"address":"` + addr.Hex() + `","timestamp":` + big.NewInt(old).String() + `,"signature":"` + hexutil.Encode(sig) + `"}`
		code, _ := srv.do(t, http.MethodPost, "/api/auth/login", body, nil)
		require.Equal(t, http.StatusUnauthorized, code)
	})

	t.Run("bad address", func(t *testing.T) {
		code, _ := srv.do(t, http.MethodPost, "/api/auth/login", `{"address":"nope"}`, nil)
		require.Equal(t, http.StatusBadRequest, code)
	})
}

func TestContentLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	_, creator := newWallet(t)
	_, fan := newWallet(t)
	creatorAuth := srv.tokenFor(t, creator)
	fanAuth := srv.tokenFor(t, fan)

	code, created := srv.do(t, http.MethodPost, "/api/contents",
		`{"title":"Intro","description":"first","content_type":"video","ipfs_hash":"QmIntro","price_wei":"1000"}`, creatorAuth)
	require.Equal(t, http.StatusCreated, code)
	require.EqualValues(t, 1, created["id"])
	require.Equal(t, "VIDEO", created["content_type"])
	require.Equal(t, creator.Hex(), created["creator"])
	require.Equal(t, "1000", created["price_wei"])

	code, count := srv.do(t, http.MethodGet, "/api/contents/count", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, count["total"])

	code, access := srv.do(t, http.MethodGet, "/api/access/"+fan.Hex()+"/1", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, access["has_access"])

	code, _ = srv.do(t, http.MethodPost, "/api/contents/1/purchase", `{"value_wei":"999"}`, fanAuth)
	require.Equal(t, http.StatusPaymentRequired, code)

	code, grant := srv.do(t, http.MethodPost, "/api/contents/1/purchase", `{"value_wei":"1500"}`, fanAuth)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "1500", grant["amount_paid_wei"])

	code, _ = srv.do(t, http.MethodPost, "/api/contents/1/purchase", `{"value_wei":"1500"}`, fanAuth)
	require.Equal(t, http.StatusConflict, code)

	code, access = srv.do(t, http.MethodGet, "/api/access/"+fan.Hex()+"/1", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, access["has_access"])

	code, stats := srv.do(t, http.MethodGet, "/api/creators/"+creator.Hex()+"/stats", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "1500", stats["total_earnings_wei"])
	require.EqualValues(t, 1, stats["total_sales"])
	require.EqualValues(t, 1, stats["active_content"])

	code, purchases := srv.do(t, http.MethodGet, "/api/users/"+fan.Hex()+"/purchases", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []any{float64(1)}, purchases["content_ids"])

	code, w := srv.do(t, http.MethodPost, "/api/earnings/withdraw", "", creatorAuth)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "1500", w["amount_wei"])
	require.NotEmpty(t, w["reference"])

	code, _ = srv.do(t, http.MethodPost, "/api/earnings/withdraw", "", creatorAuth)
	require.Equal(t, http.StatusConflict, code)

	code, balance := srv.do(t, http.MethodGet, "/api/creators/"+creator.Hex()+"/balance", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "0", balance["balance_wei"])

	code, history := srv.do(t, http.MethodGet, "/api/creators/"+creator.Hex()+"/withdrawals", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, history["withdrawals"], 1)
}

func TestWriteRoutesRequireWallet(t *testing.T) {
	srv := newTestServer(t, nil)

	code, _ := srv.do(t, http.MethodPost, "/api/contents", `{"title":"x","content_type":"pdf"}`, nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = srv.do(t, http.MethodPost, "/api/earnings/withdraw", "",
		map[string]string{echo.HeaderAuthorization: "Bearer not-a-token"})
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t, nil)
	_, creator := newWallet(t)
	_, other := newWallet(t)
	creatorAuth := srv.tokenFor(t, creator)
	otherAuth := srv.tokenFor(t, other)

	code, _ := srv.do(t, http.MethodPost, "/api/contents", `{"title":"Song","content_type":"audio","price_wei":"10"}`, creatorAuth)
	require.Equal(t, http.StatusCreated, code)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		auth   map[string]string
		want   int
	}{
		{"unknown content", http.MethodGet, "/api/contents/42", "", nil, http.StatusNotFound},
		{"id zero", http.MethodGet, "/api/contents/0", "", nil, http.StatusNotFound},
		{"non numeric id", http.MethodGet, "/api/contents/abc", "", nil, http.StatusBadRequest},
		{"bad content type", http.MethodPost, "/api/contents", `{"title":"x","content_type":"Hologram"}`, creatorAuth, http.StatusBadRequest},
		{"bad price", http.MethodPost, "/api/contents", `{"title":"x","content_type":"audio","price_wei":"-1"}`, creatorAuth, http.StatusBadRequest},
		{"purchase unknown", http.MethodPost, "/api/contents/9/purchase", `{"value_wei":"10"}`, otherAuth, http.StatusNotFound},
		{"set price not creator", http.MethodPut, "/api/contents/1/price", `{"price_wei":"5"}`, otherAuth, http.StatusForbidden},
		{"set price missing", http.MethodPut, "/api/contents/1/price", `{}`, creatorAuth, http.StatusBadRequest},
		{"deactivate not creator", http.MethodPost, "/api/contents/1/deactivate", "", otherAuth, http.StatusForbidden},
		{"withdraw nothing", http.MethodPost, "/api/earnings/withdraw", "", otherAuth, http.StatusConflict},
		{"bad address", http.MethodGet, "/api/creators/0x123/stats", "", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/contents?limit=-2", "", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := srv.do(t, tt.method, tt.path, tt.body, tt.auth)
			require.Equal(t, tt.want, code, resp)
			require.NotEmpty(t, resp["error"])
		})
	}
}

func TestDeactivate(t *testing.T) {
	srv := newTestServer(t, nil)
	_, creator := newWallet(t)
	_, fan := newWallet(t)
	creatorAuth := srv.tokenFor(t, creator)

	for _, title := range []string{"one", "two"} {
		code, _ := srv.do(t, http.MethodPost, "/api/contents", `{"title":"`+title+`","content_type":"zip"}`, creatorAuth)
		require.Equal(t, http.StatusCreated, code)
	}

	t.Run("creator", func(t *testing.T) {
		code, item := srv.do(t, http.MethodPost, "/api/contents/1/deactivate", "", creatorAuth)
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, false, item["is_active"])

		code, _ = srv.do(t, http.MethodPost, "/api/contents/1/deactivate", "", creatorAuth)
		require.Equal(t, http.StatusGone, code)

		code, _ = srv.do(t, http.MethodPost, "/api/contents/1/purchase", "", srv.tokenFor(t, fan))
		require.Equal(t, http.StatusGone, code)
	})

	t.Run("admin token", func(t *testing.T) {
		code, _ := srv.do(t, http.MethodPost, "/api/contents/2/deactivate", "",
			map[string]string{headerAdminToken: "wrong"})
		require.Equal(t, http.StatusUnauthorized, code)

		code, item := srv.do(t, http.MethodPost, "/api/contents/2/deactivate", "",
			map[string]string{headerAdminToken: testAdminToken})
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, false, item["is_active"])
	})

	t.Run("listing hides inactive", func(t *testing.T) {
		code, page := srv.do(t, http.MethodGet, "/api/contents", "", nil)
		require.Equal(t, http.StatusOK, code)
		require.Empty(t, page["items"])

		code, page = srv.do(t, http.MethodGet, "/api/contents?include_inactive=true", "", nil)
		require.Equal(t, http.StatusOK, code)
		require.Len(t, page["items"], 2)
	})
}

func TestRPCCall(t *testing.T) {
	srv := newTestServer(t, nil)
	_, creator := newWallet(t)
	_, err := srv.svc.CreateContent(context.Background(), creator, service.CreateContentInput{
		Title:       "Paper",
		ContentType: 1,
		Price:       big.NewInt(77),
	})
	require.NoError(t, err)

	codec, err := contractabi.NewCodec(srv.svc)
	require.NoError(t, err)
	contractABI := codec.ABI()

	call := func(t *testing.T, method string, args ...interface{}) (int, map[string]any) {
		t.Helper()
		data, err := contractABI.Pack(method, args...)
		require.NoError(t, err)
		return srv.do(t, http.MethodPost, "/rpc/call", `{"data":"`+hexutil.Encode(data)+`"}`, nil)
	}

	t.Run("total", func(t *testing.T) {
		code, resp := call(t, "getTotalContent")
		require.Equal(t, http.StatusOK, code)
		raw, err := hexutil.Decode(resp["result"].(string))
		require.NoError(t, err)
		out, err := contractABI.Unpack("getTotalContent", raw)
		require.NoError(t, err)
		require.Equal(t, big.NewInt(1), out[0])
	})

	t.Run("revert", func(t *testing.T) {
		code, resp := call(t, "getContent", big.NewInt(5))
		require.Equal(t, http.StatusOK, code)
		require.Contains(t, resp["error"], "execution reverted")
	})

	t.Run("malformed", func(t *testing.T) {
		code, _ := srv.do(t, http.MethodPost, "/rpc/call", `{"data":"0x01"}`, nil)
		require.Equal(t, http.StatusBadRequest, code)

		code, _ = srv.do(t, http.MethodPost, "/rpc/call", `{"data":"zz"}`, nil)
		require.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("abi", func(t *testing.T) {
		code, _ := srv.do(t, http.MethodGet, "/rpc/abi", "", nil)
		require.Equal(t, http.StatusOK, code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, nil)

	code, resp := srv.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "healthy", resp["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "unlockd_test_http_requests_total")
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	t.Cleanup(limiter.Stop)
	srv := newTestServer(t, limiter)

	for i := 0; i < 2; i++ {
		code, _ := srv.do(t, http.MethodPost, "/api/auth/login", `{"address":"bad"}`, nil)
		require.Equal(t, http.StatusBadRequest, code)
	}
	code, _ := srv.do(t, http.MethodPost, "/api/auth/login", `{"address":"bad"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, code)

	// Reads are not limited.
	code, _ = srv.do(t, http.MethodGet, "/api/contents/count", "", nil)
	require.Equal(t, http.StatusOK, code)

	now := time.Now()
	limiter.cleanup(now.Add(2 * visitorTTL))
	limiter.mu.Lock()
	require.Empty(t, limiter.visitors)
	limiter.mu.Unlock()
}
