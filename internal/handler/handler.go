package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nathanyu/donut-exchange/internal/agent"
	"github.com/nathanyu/donut-exchange/internal/domain"
	"github.com/nathanyu/donut-exchange/internal/engine"
	"github.com/nathanyu/donut-exchange/internal/ledger"
	"github.com/nathanyu/donut-exchange/internal/stats"
)

// DefaultStartingBalance is $1,000 in cents, granted to new outlets
// unless the request says otherwise.
const DefaultStartingBalance int64 = 100_000

// Handler holds the HTTP handler dependencies.
type Handler struct {
	engine    *engine.Engine
	ledger    *ledger.Ledger
	tracker   *stats.Tracker
	restocker *agent.Restocker
}

// New creates a Handler.
func New(e *engine.Engine, l *ledger.Ledger, t *stats.Tracker, r *agent.Restocker) *Handler {
	return &Handler{
		engine:    e,
		ledger:    l,
		tracker:   t,
		restocker: r,
	}
}

// RegisterRoutes sets up the Gin routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/order", h.PlaceOrder)
		v1.GET("/order/:id", h.GetOrder)
		v1.DELETE("/order/:id", h.CancelOrder)

		v1.GET("/orderbook", h.GetOrderBook)
		v1.GET("/orderbook/depth", h.GetDepth)
		v1.GET("/ticker", h.GetTicker)
		v1.GET("/trade", h.GetTrades)

		v1.POST("/outlet", h.CreateOutlet)
		v1.GET("/outlet", h.ListOutlets)
		v1.GET("/outlet/:id", h.GetOutlet)
		v1.GET("/outlet/:id/balance", h.GetBalance)
		v1.GET("/outlet/:id/inventory", h.GetInventory)

		v1.POST("/instrument", h.CreateInstrument)
		v1.GET("/instrument", h.ListInstruments)

		v1.GET("/leaderboard", h.GetLeaderboard)

		v1.GET("/agent/restock/:id", h.GetRestockConfig)
		v1.POST("/agent/restock/:id", h.SetRestockEnabled)
	}
}

// Health returns a health check response.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "donut-exchange",
	})
}

func respondError(c *gin.Context, err error) {
	switch {
	case domain.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrUnknownInstrument),
		errors.Is(err, domain.ErrUnknownOutlet):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// PlaceOrderRequest is the request body for placing an order.
type PlaceOrderRequest struct {
	Side         domain.Side `json:"side" binding:"required"`
	InstrumentID string      `json:"instrument_id" binding:"required"`
	Quantity     int64       `json:"quantity" binding:"required"`
	PricePerUnit int64       `json:"price_per_unit" binding:"required"`
	OutletID     string      `json:"outlet_id" binding:"required"`
}

// PlaceOrder handles POST /v1/order.
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, trades, err := h.engine.SubmitOrder(c.Request.Context(), req.Side, req.InstrumentID, req.Quantity, req.PricePerUnit, req.OutletID)
	if err != nil {
		respondError(c, err)
		return
	}

	if trades == nil {
		trades = []*domain.Trade{}
	}
	c.JSON(http.StatusCreated, gin.H{
		"order":  order,
		"trades": trades,
	})
}

// GetOrder handles GET /v1/order/:id.
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.engine.GetOrder(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// CancelOrder handles DELETE /v1/order/:id.
func (h *Handler) CancelOrder(c *gin.Context) {
	order, err := h.engine.CancelOrder(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetOrderBook handles GET /v1/orderbook.
func (h *Handler) GetOrderBook(c *gin.Context) {
	instrumentID := c.Query("instrument_id")
	if instrumentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument_id is required"})
		return
	}

	snapshot, err := h.engine.GetOrderBook(instrumentID)
	if err != nil {
		respondError(c, err)
		return
	}
	if snapshot.Bids == nil {
		snapshot.Bids = []domain.BookEntry{}
	}
	if snapshot.Asks == nil {
		snapshot.Asks = []domain.BookEntry{}
	}
	c.JSON(http.StatusOK, snapshot)
}

// GetDepth handles GET /v1/orderbook/depth.
func (h *Handler) GetDepth(c *gin.Context) {
	instrumentID := c.Query("instrument_id")
	if instrumentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument_id is required"})
		return
	}

	depthStr := c.DefaultQuery("depth", "10")
	depth, err := strconv.Atoi(depthStr)
	if err != nil || depth <= 0 {
		depth = 10
	}

	md, err := h.engine.GetDepth(instrumentID, depth)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, md)
}

// GetTicker handles GET /v1/ticker.
func (h *Handler) GetTicker(c *gin.Context) {
	instrumentID := c.Query("instrument_id")
	if instrumentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument_id is required"})
		return
	}

	ticker, err := h.engine.GetBestBidAsk(instrumentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ticker)
}

// GetTrades handles GET /v1/trade.
func (h *Handler) GetTrades(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 50
	}

	var trades []*domain.Trade
	if instrumentID := c.Query("instrument_id"); instrumentID != "" {
		trades = h.engine.GetTradesByInstrument(instrumentID, limit)
	} else {
		trades = h.engine.GetRecentTrades(limit)
	}
	c.JSON(http.StatusOK, trades)
}

// CreateOutletRequest is the request body for creating an outlet.
type CreateOutletRequest struct {
	OutletID   string `json:"outlet_id" binding:"required"`
	OutletName string `json:"outlet_name" binding:"required"`
	Location   string `json:"location"`
	Balance    *int64 `json:"balance"`
}

// CreateOutlet handles POST /v1/outlet.
func (h *Handler) CreateOutlet(c *gin.Context) {
	var req CreateOutletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	balance := DefaultStartingBalance
	if req.Balance != nil {
		balance = *req.Balance
	}

	outlet, err := h.ledger.CreateOutlet(req.OutletID, req.OutletName, req.Location, balance)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, outlet)
}

// ListOutlets handles GET /v1/outlet.
func (h *Handler) ListOutlets(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.ListOutlets())
}

// GetOutlet handles GET /v1/outlet/:id.
func (h *Handler) GetOutlet(c *gin.Context) {
	outlet, err := h.ledger.GetOutlet(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outlet)
}

// GetBalance handles GET /v1/outlet/:id/balance.
func (h *Handler) GetBalance(c *gin.Context) {
	outletID := c.Param("id")
	balance, err := h.ledger.GetBalance(outletID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outlet_id": outletID,
		"balance":   balance,
	})
}

// GetInventory handles GET /v1/outlet/:id/inventory.
func (h *Handler) GetInventory(c *gin.Context) {
	outlet, err := h.ledger.GetOutlet(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outlet_id": outlet.OutletID,
		"inventory": outlet.Inventory,
	})
}

// CreateInstrumentRequest is the request body for registering an instrument.
type CreateInstrumentRequest struct {
	InstrumentID string `json:"instrument_id" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Description  string `json:"description"`
}

// CreateInstrument handles POST /v1/instrument.
func (h *Handler) CreateInstrument(c *gin.Context) {
	var req CreateInstrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst := domain.Instrument{
		InstrumentID: req.InstrumentID,
		Name:         req.Name,
		Description:  req.Description,
	}
	if err := h.engine.RegisterInstrument(inst); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, inst)
}

// ListInstruments handles GET /v1/instrument.
func (h *Handler) ListInstruments(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Instruments())
}

// GetLeaderboard handles GET /v1/leaderboard.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "10")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 10
	}
	c.JSON(http.StatusOK, h.tracker.Top(limit))
}

// GetRestockConfig handles GET /v1/agent/restock/:id.
func (h *Handler) GetRestockConfig(c *gin.Context) {
	cfg := h.restocker.GetConfig(c.Param("id"))
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no restock config for outlet"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// SetRestockEnabledRequest toggles an outlet's restocking agent.
type SetRestockEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetRestockEnabled handles POST /v1/agent/restock/:id.
func (h *Handler) SetRestockEnabled(c *gin.Context) {
	var req SetRestockEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outletID := c.Param("id")
	if h.restocker.GetConfig(outletID) == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no restock config for outlet"})
		return
	}

	h.restocker.SetEnabled(outletID, *req.Enabled)
	c.JSON(http.StatusOK, gin.H{
		"outlet_id": outletID,
		"enabled":   *req.Enabled,
	})
}
