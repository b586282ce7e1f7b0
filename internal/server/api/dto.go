package api

import (
	"time"

	"unlockd/internal/server/ledger"
)

// Amounts cross the wire as base-10 wei strings; JSON numbers cannot hold uint256.

type loginRequest struct {
	Address   string `json:"address"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

type createContentRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ContentType string `json:"content_type"`
	IPFSHash    string `json:"ipfs_hash"`
	EmbedURL    string `json:"embed_url"`
	PreviewHash string `json:"preview_hash"`
	PriceWei    string `json:"price_wei"`
}

type purchaseRequest struct {
	ValueWei string `json:"value_wei"`
}

type setPriceRequest struct {
	PriceWei string `json:"price_wei"`
}

type rpcCallRequest struct {
	Data string `json:"data"`
}

type contentResponse struct {
	ID               uint64    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	ContentType      string    `json:"content_type"`
	ContentTypeID    uint8     `json:"content_type_id"`
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

func toContentResponse(item *ledger.ContentItem) contentResponse {
	return contentResponse{
		ID:               item.ID,
		Title:            item.Title,
		Description:      item.Description,
		ContentType:      item.ContentType.String(),
		ContentTypeID:    uint8(item.ContentType),
		IPFSHash:         item.IPFSHash,
		EmbedURL:         item.EmbedURL,
		PreviewHash:      item.PreviewHash,
		PriceWei:         ledger.CopyAmount(item.Price).String(),
		Creator:          item.Creator.Hex(),
		IsActive:         item.IsActive,
		CreatedAt:        item.CreatedAt,
		TotalEarningsWei: ledger.CopyAmount(item.TotalEarnings).String(),
		TotalSales:       item.TotalSales,
	}
}

type grantResponse struct {
	Buyer         string    `json:"buyer"`
	ContentID     uint64    `json:"content_id"`
	AmountPaidWei string    `json:"amount_paid_wei"`
	GrantedAt     time.Time `json:"granted_at"`
}

func toGrantResponse(g *ledger.AccessGrant) grantResponse {
	return grantResponse{
		Buyer:         g.Buyer.Hex(),
		ContentID:     g.ContentID,
		AmountPaidWei: ledger.CopyAmount(g.AmountPaid).String(),
		GrantedAt:     g.GrantedAt,
	}
}

type statsResponse struct {
	Creator             string `json:"creator"`
	TotalEarningsWei    string `json:"total_earnings_wei"`
	TotalSales          uint64 `json:"total_sales"`
	ActiveContent       uint64 `json:"active_content"`
	LifetimeEarningsWei string `json:"lifetime_earnings_wei"`
}

type withdrawalResponse struct {
	Creator   string    `json:"creator"`
	AmountWei string    `json:"amount_wei"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

func toWithdrawalResponse(w *ledger.Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		Creator:   w.Creator.Hex(),
		AmountWei: ledger.CopyAmount(w.Amount).String(),
		Reference: w.Reference,
		CreatedAt: w.CreatedAt,
	}
}
