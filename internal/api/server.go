package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bartab/internal/config"
	"bartab/internal/economy"
	"bartab/internal/market"
	"bartab/internal/metrics"
)

type Server struct {
	cfg     config.APIConfig
	log     *slog.Logger
	economy *economy.Service
	engine  *market.Engine
	trader  *market.Trader
	feed    *MarketFeed
	limiter *RateLimiter
	idem    *Idempotency
	mux     *chi.Mux
}

// New wires the routes and subscribes the websocket feed to engine updates,
// so it must be called before the engine starts running.
func New(cfg config.APIConfig, logger *slog.Logger, econ *economy.Service, engine *market.Engine, trader *market.Trader) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		economy: econ,
		engine:  engine,
		trader:  trader,
		feed:    NewMarketFeed(logger),
		limiter: NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		idem:    NewIdempotency(idempotencyTTL),
		mux:     chi.NewRouter(),
	}
	engine.OnUpdate(s.feed.Publish)
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run drives the websocket feed and the cache evictions until ctx is done.
func (s *Server) Run(ctx context.Context) {
	go s.limiter.Run(ctx)
	go s.idem.Run(ctx)
	s.feed.Run(ctx)
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Handle("/metrics", metrics.Handler())

	// The feed hijacks the connection, so it stays outside the wrapped writer
	// and the request timeout.
	r.With(s.limiter.Middleware, s.authMiddleware).Get("/v1/ws/market", s.handleMarketFeed)

	r.Group(func(r chi.Router) {
		r.Use(metrics.Middleware)
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(s.limiter.Middleware)
		r.Use(s.authMiddleware)
		r.Use(s.idem.Middleware)

		r.Route("/v1", func(r chi.Router) {
			r.Route("/accounts/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAccount)
				r.Post("/balance", s.handleUpdateBalance)
				r.Get("/cooldowns/{action}", s.handleCheckCooldown)
				r.Post("/cooldowns/{action}", s.handleSetCooldown)
				r.Get("/portfolio", s.handleGetPortfolio)
				r.Put("/portfolio", s.handleUpdatePortfolio)

				r.Post("/daily", s.handleDaily)
				r.Post("/work", s.handleWork)
				r.Post("/beg", s.handleBeg)
				r.Post("/deposit", s.handleDeposit)
				r.Post("/withdraw", s.handleWithdraw)
				r.Post("/upgrade", s.handleUpgrade)

				r.Post("/shop/{item}", s.handleBuyItem)
				r.Get("/inventory", s.handleInventory)
				r.Post("/inventory/{item}/use", s.handleUseItem)
			})
			r.Post("/transfers", s.handleTransfer)
			r.Get("/shop", s.handleShop)

			r.Get("/market", s.handleMarketStatus)
			r.Get("/market/movers", s.handleMarketMovers)
			r.Post("/market/trades", s.handleTrade)
			r.Post("/market/news", s.handleForceNews)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/accounts/{id}/give", s.handleAdminGive)
				r.Post("/accounts/{id}/reset", s.handleAdminReset)
				r.Get("/stats", s.handleAdminStats)
			})
		})
	})
}

// authMiddleware accepts the operator token as a bearer header, or as an
// access_token query parameter for browser websocket clients.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.economy.GetAccount(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var in struct {
		WalletDelta int64 `json:"wallet_delta"`
		BankDelta   int64 `json:"bank_delta"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.economy.UpdateBalance(r.Context(), id, in.WalletDelta, in.BankDelta)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var in struct {
		From   int64 `json:"from"`
		To     int64 `json:"to"`
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.From <= 0 || in.To <= 0 {
		writeError(w, http.StatusBadRequest, "from and to must be account ids")
		return
	}
	ok, credited, err := s.economy.Transfer(r.Context(), in.From, in.To, in.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": ok, "credited": credited})
}

func (s *Server) handleCheckCooldown(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	window, err := time.ParseDuration(r.URL.Query().Get("window"))
	if err != nil || window <= 0 {
		writeError(w, http.StatusBadRequest, "window must be a positive duration such as 1h")
		return
	}
	action := chi.URLParam(r, "action")
	remaining, err := s.economy.CheckCooldown(r.Context(), id, action, window)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"action":            action,
		"ready":             remaining == 0,
		"remaining_seconds": int64(math.Ceil(remaining.Seconds())),
	})
}

func (s *Server) handleSetCooldown(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	if err := s.economy.SetCooldown(r.Context(), id, chi.URLParam(r, "action")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.economy.GetPortfolio(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdatePortfolio(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var in economy.Portfolio
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.economy.UpdatePortfolio(r.Context(), id, in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.economy.Daily(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleWork(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.economy.Work(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBeg(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.economy.Beg(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, s.economy.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, s.economy.Withdraw)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, move func(context.Context, int64, int64) (economy.MoveResult, error)) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := move(r.Context(), id, in.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var in struct {
		Kind string `json:"kind"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.economy.UpgradeLimit(r.Context(), id, strings.ToLower(strings.TrimSpace(in.Kind)))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleShop(w http.ResponseWriter, r *http.Request) {
	items, err := s.economy.ShopItems(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleBuyItem(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	itemID, ok := itemParam(w, r)
	if !ok {
		return
	}
	out, err := s.economy.BuyItem(r.Context(), id, itemID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	items, err := s.economy.Inventory(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleUseItem(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	itemID, ok := itemParam(w, r)
	if !ok {
		return
	}
	out, err := s.economy.UseItem(r.Context(), id, itemID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleMarketMovers(w http.ResponseWriter, r *http.Request) {
	n := 3
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"movers": s.engine.TopMovers(n)})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var in market.TradeRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	out, err := s.trader.Trade(r.Context(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleForceNews(w http.ResponseWriter, r *http.Request) {
	news, err := s.trader.ForceNews(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"news": news})
}

func (s *Server) handleMarketFeed(w http.ResponseWriter, r *http.Request) {
	s.feed.Serve(w, r, s.engine.Status())
}

func (s *Server) handleAdminGive(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	var in struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.economy.Give(r.Context(), id, in.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.log.Info("admin give", "user_id", id, "amount", in.Amount, "request_id", middleware.GetReqID(r.Context()))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	out, err := s.economy.Reset(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.log.Info("admin reset", "user_id", id, "request_id", middleware.GetReqID(r.Context()))
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	out, err := s.economy.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var cooldown *economy.CooldownError
	switch {
	case errors.As(err, &cooldown):
		w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(cooldown.Remaining.Seconds())), 10))
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, market.ErrDailyLimit), errors.Is(err, market.ErrTradingTooFast), errors.Is(err, market.ErrNewsCooldown):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, economy.ErrNotFound), errors.Is(err, economy.ErrUnknownItem), errors.Is(err, market.ErrUnknownSymbol):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrMarketClosed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, economy.ErrLockTimeout), errors.Is(err, economy.ErrConflict), errors.Is(err, economy.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, economy.ErrInvalidAmount),
		errors.Is(err, economy.ErrInsufficientFunds),
		errors.Is(err, economy.ErrSelfTransfer),
		errors.Is(err, economy.ErrLimitReached),
		errors.Is(err, economy.ErrInvalidUpgrade),
		errors.Is(err, economy.ErrPortfolioFull),
		errors.Is(err, economy.ErrInvalidPortfolio),
		errors.Is(err, market.ErrInvalidAsset),
		errors.Is(err, market.ErrInvalidSide),
		errors.Is(err, market.ErrInvalidAmount),
		errors.Is(err, market.ErrBelowMinimum),
		errors.Is(err, market.ErrOrderTooLarge),
		errors.Is(err, market.ErrInsufficientHoldings):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "account id must be a positive integer")
		return 0, false
	}
	return id, true
}

func itemParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "item"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid item id %q", chi.URLParam(r, "item")))
		return 0, false
	}
	return id, true
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
