package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/gateway"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/market"
	"github.com/shubham-shewale/stock-relay/cmd/relay/internal/repository"
)

// Quotes is the read side of the price simulator.
type Quotes interface {
	Price(sym market.Symbol) (float64, error)
	History(sym market.Symbol) ([]float64, error)
}

// Handler serves the account and market REST endpoints.
type Handler struct {
	store   repository.UserStore
	manager *gateway.Manager
	sim     Quotes
	logger  *zap.Logger

	rndMu sync.Mutex
	rnd   market.Rand
}

func NewHandler(store repository.UserStore, manager *gateway.Manager, sim Quotes, rnd market.Rand, logger *zap.Logger) *Handler {
	return &Handler{
		store:   store,
		manager: manager,
		sim:     sim,
		rnd:     rnd,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/register", h.Register)
		api.POST("/login", h.Login)
		api.POST("/subscribe", h.Subscribe)
		api.POST("/unsubscribe", h.Unsubscribe)
		api.GET("/history/:ticker", h.History)
		api.GET("/recommendations", h.Recommendations)
		api.GET("/health", h.Health)
	}
}

type EmailRequest struct {
	Email string `json:"email"`
}

type TickerRequest struct {
	Token  string `json:"token"`
	Ticker string `json:"ticker"`
}

type Recommendation struct {
	Ticker     string `json:"ticker"`
	SignalType string `json:"signalType"`
	Reason     string `json:"reason"`
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}

// Register creates a user with a fresh token and an empty list.
func (h *Handler) Register(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body.")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		fail(c, http.StatusBadRequest, "Email is required.")
		return
	}

	user, err := h.store.Create(c.Request.Context(), email, repository.NewToken())
	if errors.Is(err, repository.ErrUserExists) {
		fail(c, http.StatusConflict, "User already exists.")
		return
	}
	if err != nil {
		h.logger.Error("Failed to register user", zap.String("email", email), zap.Error(err))
		fail(c, http.StatusInternalServerError, "Internal server error.")
		return
	}

	h.logger.Info("User registered", zap.String("email", email))
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"token":            user.Token,
		"email":            user.Email,
		"subscribedStocks": user.SubscribedStocks,
		"message":          "Registration successful. Logging you in...",
	})
}

// Login returns the existing token for an email.
func (h *Handler) Login(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body.")
		return
	}

	user, err := h.store.FindByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if errors.Is(err, repository.ErrUserNotFound) {
		fail(c, http.StatusNotFound, "User not found. Please register.")
		return
	}
	if err != nil {
		h.logger.Error("Failed to look up user", zap.Error(err))
		fail(c, http.StatusInternalServerError, "Internal server error.")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"token":            user.Token,
		"email":            user.Email,
		"subscribedStocks": user.SubscribedStocks,
	})
}

// Subscribe adds a ticker for the token's user; live sessions follow at once.
func (h *Handler) Subscribe(c *gin.Context) {
	var req TickerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body.")
		return
	}

	sym, _, err := h.manager.Subscribe(c.Request.Context(), req.Token, req.Ticker)
	switch {
	case errors.Is(err, gateway.ErrTokenRequired), errors.Is(err, gateway.ErrInvalidToken):
		fail(c, http.StatusUnauthorized, "Unauthorized")
		return
	case errors.Is(err, market.ErrUnknownSymbol):
		fail(c, http.StatusBadRequest, "Unsupported stock ticker.")
		return
	case err != nil:
		h.logger.Error("Subscribe failed", zap.String("ticker", req.Ticker), zap.Error(err))
		fail(c, http.StatusInternalServerError, "Internal server error.")
		return
	}

	price, err := h.sim.Price(sym)
	if err != nil {
		h.logger.Error("Price lookup failed", zap.String("ticker", string(sym)), zap.Error(err))
		fail(c, http.StatusInternalServerError, "Internal server error.")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      fmt.Sprintf("%s subscribed.", sym),
		"currentPrice": price,
	})
}

// Unsubscribe removes a ticker for the token's user.
func (h *Handler) Unsubscribe(c *gin.Context) {
	var req TickerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Invalid request body.")
		return
	}

	sym, err := h.manager.Unsubscribe(c.Request.Context(), req.Token, req.Ticker)
	switch {
	case errors.Is(err, gateway.ErrTokenRequired), errors.Is(err, gateway.ErrInvalidToken):
		fail(c, http.StatusUnauthorized, "Unauthorized")
		return
	case errors.Is(err, gateway.ErrNotSubscribed):
		fail(c, http.StatusNotFound, "Ticker not found in subscription list.")
		return
	case err != nil:
		h.logger.Error("Unsubscribe failed", zap.String("ticker", req.Ticker), zap.Error(err))
		fail(c, http.StatusInternalServerError, "Internal server error.")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf("%s unsubscribed.", sym)})
}

// History returns the rolling price history, oldest first.
func (h *Handler) History(c *gin.Context) {
	sym, err := market.ParseSymbol(c.Param("ticker"))
	if err != nil {
		fail(c, http.StatusNotFound, "Ticker history not found.")
		return
	}
	hist, err := h.sim.History(sym)
	if err != nil {
		fail(c, http.StatusNotFound, "Ticker history not found.")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "history": hist})
}

// Recommendations suggests one symbol the user does not follow yet. An
// unknown token is treated as a user with no subscriptions.
func (h *Handler) Recommendations(c *gin.Context) {
	subscribed := map[string]bool{}
	if token := c.Query("token"); token != "" {
		user, err := h.store.FindByToken(c.Request.Context(), token)
		switch {
		case err == nil:
			for _, s := range user.SubscribedStocks {
				subscribed[s] = true
			}
		case !errors.Is(err, repository.ErrUserNotFound):
			h.logger.Warn("Recommendation lookup failed", zap.Error(err))
		}
	}

	var available []market.Symbol
	for _, sym := range market.Supported() {
		if !subscribed[string(sym)] {
			available = append(available, sym)
		}
	}

	recs := []Recommendation{}
	if len(available) > 0 {
		h.rndMu.Lock()
		pick := available[h.rnd.Intn(len(available))]
		h.rndMu.Unlock()

		recs = append(recs, Recommendation{
			Ticker:     string(pick),
			SignalType: "BUY",
			Reason:     fmt.Sprintf("Strong volume detected in %s. Potential upward momentum.", pick),
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "recommendations": recs})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "sessions": h.manager.Sessions()})
}
