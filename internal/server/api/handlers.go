package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"unlockd/internal/server/contractabi"
	"unlockd/internal/server/ledger"
	"unlockd/internal/server/service"
	"unlockd/internal/walletauth"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/labstack/echo/v4"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the ledger API.
type Handler struct {
	ledger *service.LedgerService
	health HealthChecker
	auth   *Authenticator
	codec  *contractabi.Codec
}

// NewHandler creates a new handler.
func NewHandler(svc *service.LedgerService, health HealthChecker, auth *Authenticator, codec *contractabi.Codec) *Handler {
	return &Handler{ledger: svc, health: health, auth: auth, codec: codec}
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	storeStatus := "connected"

	if err := h.health.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		storeStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status": status,
		"store":  storeStatus,
	})
}

// HandleLogin handles POST /api/auth/login.
// Exchanges a personal_sign signature over the login message for a session token.
func (h *Handler) HandleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		return badRequest(c, err.Error())
	}

	token, expires, err := h.auth.Login(addr, req.Timestamp, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, errStaleLogin):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
		case errors.Is(err, walletauth.ErrMalformedSignature), errors.Is(err, walletauth.ErrSignerMismatch):
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "signature verification failed"})
		default:
			return mapServiceError(c, err)
		}
	}

	return c.JSON(http.StatusOK, loginResponse{Token: token, Address: addr.Hex(), ExpiresAt: expires})
}

// HandleListContents handles GET /api/contents.
func (h *Handler) HandleListContents(c echo.Context) error {
	var filter service.ListFilter

	if raw := c.QueryParam("creator"); raw != "" {
		addr, err := parseAddress(raw)
		if err != nil {
			return badRequest(c, err.Error())
		}
		filter.Creator = &addr
	}
	if raw := c.QueryParam("type"); raw != "" {
		ct, err := ledger.ParseContentType(raw)
		if err != nil {
			return badRequest(c, "invalid content type")
		}
		filter.ContentType = &ct
	}
	if raw := c.QueryParam("include_inactive"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "include_inactive must be a boolean")
		}
		filter.IncludeInactive = v
	}
	var err error
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		return badRequest(c, err.Error())
	}
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		return badRequest(c, err.Error())
	}

	page, err := h.ledger.ListContent(c.Request().Context(), filter)
	if err != nil {
		return mapServiceError(c, err)
	}

	items := make([]contentResponse, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, toContentResponse(item))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"items":  items,
		"total":  page.Total,
		"offset": page.Offset,
		"limit":  page.Limit,
	})
}

// HandleContentCount handles GET /api/contents/count.
func (h *Handler) HandleContentCount(c echo.Context) error {
	total, err := h.ledger.GetTotalContent(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"total": total})
}

// HandleGetContent handles GET /api/contents/:id.
func (h *Handler) HandleGetContent(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	item, err := h.ledger.GetContent(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toContentResponse(item))
}

// HandleCreateContent handles POST /api/contents.
// The authenticated wallet becomes the creator.
func (h *Handler) HandleCreateContent(c echo.Context) error {
	var req createContentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ct, err := ledger.ParseContentType(req.ContentType)
	if err != nil {
		return mapServiceError(c, service.ErrInvalidContentType)
	}
	price, err := ledger.ParseAmount(req.PriceWei)
	if err != nil {
		return mapServiceError(c, fmt.Errorf("%w: price_wei", service.ErrInvalidAmount))
	}

	item, err := h.ledger.CreateContent(c.Request().Context(), walletFrom(c), service.CreateContentInput{
		Title:       req.Title,
		Description: req.Description,
		ContentType: ct,
		IPFSHash:    req.IPFSHash,
		EmbedURL:    req.EmbedURL,
		PreviewHash: req.PreviewHash,
		Price:       price,
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toContentResponse(item))
}

// HandlePurchase handles POST /api/contents/:id/purchase.
func (h *Handler) HandlePurchase(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req purchaseRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	value, err := ledger.ParseAmount(req.ValueWei)
	if err != nil {
		return mapServiceError(c, fmt.Errorf("%w: value_wei", service.ErrInvalidAmount))
	}

	grant, err := h.ledger.PurchaseAccess(c.Request().Context(), walletFrom(c), id, value)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toGrantResponse(grant))
}

// HandleSetPrice handles PUT /api/contents/:id/price.
func (h *Handler) HandleSetPrice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req setPriceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.PriceWei == "" {
		return badRequest(c, "price_wei is required")
	}
	price, err := ledger.ParseAmount(req.PriceWei)
	if err != nil {
		return mapServiceError(c, fmt.Errorf("%w: price_wei", service.ErrInvalidAmount))
	}

	item, err := h.ledger.SetPrice(c.Request().Context(), walletFrom(c), id, price)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toContentResponse(item))
}

// HandleDeactivate handles POST /api/contents/:id/deactivate.
func (h *Handler) HandleDeactivate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	item, err := h.ledger.DeactivateContent(c.Request().Context(), walletFrom(c), id, isAdmin(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toContentResponse(item))
}

// HandleCheckAccess handles GET /api/access/:address/:id.
func (h *Handler) HandleCheckAccess(c echo.Context) error {
	user, err := parseAddress(c.Param("address"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	id, err := parseID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	has, err := h.ledger.CheckAccess(c.Request().Context(), user, id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"address":    user.Hex(),
		"content_id": id,
		"has_access": has,
	})
}

// HandleUserPurchases handles GET /api/users/:address/purchases.
func (h *Handler) HandleUserPurchases(c echo.Context) error {
	user, err := parseAddress(c.Param("address"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	ids, err := h.ledger.GetUserPurchases(c.Request().Context(), user)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"address": user.Hex(), "content_ids": nonNil(ids)})
}

// HandleCreatorStats handles GET /api/creators/:address/stats.
func (h *Handler) HandleCreatorStats(c echo.Context) error {
	creator, err := parseAddress(c.Param("address"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	stats, err := h.ledger.GetCreatorStats(c.Request().Context(), creator)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, statsResponse{
		Creator:             creator.Hex(),
		TotalEarningsWei:    ledger.CopyAmount(stats.TotalEarnings).String(),
		TotalSales:          stats.TotalSales,
		ActiveContent:       stats.ActiveContent,
		LifetimeEarningsWei: ledger.CopyAmount(stats.LifetimeEarnings).String(),
	})
}

// HandleCreatorContents handles GET /api/creators/:address/contents.
func (h *Handler) HandleCreatorContents(c echo.Context) error {
	creator, err := parseAddress(c.Param("address"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	ids, err := h.ledger.GetCreatorContent(c.Request().Context(), creator)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"creator": creator.Hex(), "content_ids": nonNil(ids)})
}

// HandleCreatorBalance handles GET /api/creators/:address/balance.
func (h *Handler) HandleCreatorBalance(c echo.Context) error {
	creator, err := parseAddress(c.Param("address"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	balance, err := h.ledger.GetCreatorBalance(c.Request().Context(), creator)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"creator": creator.Hex(), "balance_wei": balance.String()})
}

// HandleCreatorWithdrawals handles GET /api/creators/:address/withdrawals.
func (h *Handler) HandleCreatorWithdrawals(c echo.Context) error {
	creator, err := parseAddress(c.Param("address"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	list, err := h.ledger.ListWithdrawals(c.Request().Context(), creator)
	if err != nil {
		return mapServiceError(c, err)
	}
	out := make([]withdrawalResponse, 0, len(list))
	for _, w := range list {
		out = append(out, toWithdrawalResponse(w))
	}
	return c.JSON(http.StatusOK, echo.Map{"creator": creator.Hex(), "withdrawals": out})
}

// HandleWithdraw handles POST /api/earnings/withdraw.
func (h *Handler) HandleWithdraw(c echo.Context) error {
	w, err := h.ledger.WithdrawEarnings(c.Request().Context(), walletFrom(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, toWithdrawalResponse(w))
}

// HandleABI handles GET /rpc/abi.
func (h *Handler) HandleABI(c echo.Context) error {
	return c.JSONBlob(http.StatusOK, []byte(contractabi.LedgerABI))
}

// HandleRPCCall handles POST /rpc/call.
// Takes ABI calldata and returns ABI-encoded results, like eth_call.
// Ledger rejections are reported in the body the way a revert would be.
func (h *Handler) HandleRPCCall(c echo.Context) error {
	var req rpcCallRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	data, err := hexutil.Decode(req.Data)
	if err != nil {
		return badRequest(c, "data must be 0x-prefixed hex")
	}

	out, err := h.codec.Call(c.Request().Context(), data)
	if err != nil {
		var revert *contractabi.RevertError
		switch {
		case errors.As(err, &revert):
			return c.JSON(http.StatusOK, echo.Map{"error": revert.Error()})
		case errors.Is(err, contractabi.ErrShortCalldata),
			errors.Is(err, contractabi.ErrUnknownSelector),
			errors.Is(err, contractabi.ErrBadArguments):
			return badRequest(c, err.Error())
		default:
			return mapServiceError(c, err)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"result": hexutil.Encode(out)})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidReference):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "content not found"})
	case errors.Is(err, service.ErrInsufficientPayment):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrUnauthorized):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "caller not authorized"})
	case errors.Is(err, service.ErrNoFunds):
		return c.JSON(http.StatusConflict, echo.Map{"error": "no earnings to withdraw"})
	case errors.Is(err, service.ErrAlreadyGranted):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already has access"})
	case errors.Is(err, service.ErrContentInactive):
		return c.JSON(http.StatusGone, echo.Map{"error": "content is not active"})
	case errors.Is(err, service.ErrInvalidContentType):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid content type"})
	case errors.Is(err, service.ErrInvalidAmount):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrTransferFailed):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "earnings transfer failed, balance restored"})
	default:
		slog.Error("unhandled service error", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func parseID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, errors.New("content id must be a non-negative integer")
	}
	return id, nil
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func nonNil(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return ids
}
