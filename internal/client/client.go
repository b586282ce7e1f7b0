// Package client talks to the unlockd HTTP API on behalf of the unlock CLI.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"unlockd/internal/walletauth"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type CreateContentRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ContentType string `json:"content_type"`
	IPFSHash    string `json:"ipfs_hash,omitempty"`
	EmbedURL    string `json:"embed_url,omitempty"`
	PreviewHash string `json:"preview_hash,omitempty"`
	PriceWei    string `json:"price_wei"`
}

type Content struct {
	ID               uint64    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	ContentType      string    `json:"content_type"`
	IPFSHash         string    `json:"ipfs_hash"`
	EmbedURL         string    `json:"embed_url"`
	PreviewHash      string    `json:"preview_hash"`
	PriceWei         string    `json:"price_wei"`
	Creator          string    `json:"creator"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	TotalEarningsWei string    `json:"total_earnings_wei"`
	TotalSales       uint64    `json:"total_sales"`
}

type Grant struct {
	Buyer         string    `json:"buyer"`
	ContentID     uint64    `json:"content_id"`
	AmountPaidWei string    `json:"amount_paid_wei"`
	GrantedAt     time.Time `json:"granted_at"`
}

type Stats struct {
	Creator             string `json:"creator"`
	TotalEarningsWei    string `json:"total_earnings_wei"`
	TotalSales          uint64 `json:"total_sales"`
	ActiveContent       uint64 `json:"active_content"`
	LifetimeEarningsWei string `json:"lifetime_earnings_wei"`
}

type Withdrawal struct {
	Creator   string    `json:"creator"`
	AmountWei string    `json:"amount_wei"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is a thin JSON client for the unlockd API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	nowFn   func() time.Time
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		nowFn:   time.Now,
	}
}

// Token returns the session token in use, if any.
func (c *Client) Token() string {
	return c.token
}

// Login signs the login challenge with key, exchanges it for a session token
// and keeps the token for later calls.
func (c *Client) Login(ctx context.Context, key *ecdsa.PrivateKey) (string, error) {
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	ts := c.nowFn().Unix()
	sig, err := walletauth.Sign(key, walletauth.Message(addr, ts))
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"address":   addr.Hex(),
		"timestamp": ts,
		"signature": hexutil.Encode(sig),
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return "", err
	}
	c.token = resp.Token
	return resp.Token, nil
}

func (c *Client) CreateContent(ctx context.Context, req CreateContentRequest) (*Content, error) {
	var out Content
	if err := c.do(ctx, http.MethodPost, "/api/contents", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Purchase(ctx context.Context, id uint64, value *big.Int) (*Grant, error) {
	body := map[string]string{"value_wei": value.String()}
	var out Grant
	if err := c.do(ctx, http.MethodPost, "/api/contents/"+strconv.FormatUint(id, 10)+"/purchase", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckAccess(ctx context.Context, user common.Address, id uint64) (bool, error) {
	var out struct {
		HasAccess bool `json:"has_access"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/access/"+user.Hex()+"/"+strconv.FormatUint(id, 10), nil, &out); err != nil {
		return false, err
	}
	return out.HasAccess, nil
}

func (c *Client) GetContent(ctx context.Context, id uint64) (*Content, error) {
	var out Content
	if err := c.do(ctx, http.MethodGet, "/api/contents/"+strconv.FormatUint(id, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatorStats(ctx context.Context, creator common.Address) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/api/creators/"+creator.Hex()+"/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Withdraw(ctx context.Context) (*Withdrawal, error) {
	var out Withdrawal
	if err := c.do(ctx, http.MethodPost, "/api/earnings/withdraw", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
