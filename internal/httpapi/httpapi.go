package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/service"
	"tillbook/backend/internal/session"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/validation"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	shifts        cache.ShiftCache
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

// sessionHandler runs inside a session built from the caller's token.
type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

func New(svc *service.Service, auth *AuthManager, shifts cache.ShiftCache, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		shifts:        shifts,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour is an HMAC-SHA256 of the hour bucket, hex encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleSaveProduct, "admin"))
	mux.HandleFunc("PUT /api/v1/products/{id}", a.requireAuth(a.handleSaveProduct, "admin"))
	mux.HandleFunc("DELETE /api/v1/products/{id}", a.requireAuth(a.handleDeleteProduct, "admin"))
	mux.HandleFunc("GET /api/v1/inventory/low-stock", a.requireAuth(a.handleLowStock, "admin"))
	mux.HandleFunc("GET /api/v1/settings", a.requireAuth(a.handleGetSettings, "cashier", "admin"))
	mux.HandleFunc("PUT /api/v1/settings", a.requireAuth(a.handleSaveSettings, "admin"))
	mux.HandleFunc("POST /api/v1/totals", a.requireAuth(a.handleTotals, "cashier", "admin"))

	mux.HandleFunc("GET /api/v1/shifts", a.requireAuth(a.handleListShifts, "cashier", "admin"))
	mux.HandleFunc("GET /api/v1/shifts/active", a.requireAuth(a.handleShiftActive, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/shifts/open", a.requireAuth(a.handleShiftOpen, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/shifts/close", a.requireAuth(a.handleShiftClose, "cashier", "admin"))
	mux.HandleFunc("POST /api/v1/shifts/movements", a.requireAuth(a.handleMovement, "cashier", "admin"))
	mux.HandleFunc("GET /api/v1/shifts/{id}/summary", a.requireAuth(a.handleShiftSummary, "cashier", "admin"))
	mux.HandleFunc("GET /api/v1/shifts/{id}/movements", a.requireAuth(a.handleShiftMovements, "cashier", "admin"))

	mux.HandleFunc("POST /api/v1/checkout", a.requireAuth(a.handleCheckout, "cashier", "admin"))
	mux.HandleFunc("GET /api/v1/transactions", a.requireAuth(a.handleTransactions, "cashier", "admin"))

	mux.HandleFunc("GET /api/v1/suppliers", a.requireAuth(a.handleListSuppliers, "admin"))
	mux.HandleFunc("POST /api/v1/suppliers", a.requireAuth(a.handleCreateSupplier, "admin"))
	mux.HandleFunc("GET /api/v1/purchases", a.requireAuth(a.handleListPurchases, "admin"))
	mux.HandleFunc("POST /api/v1/purchases", a.requireAuth(a.handleCreatePurchase, "admin"))
	mux.HandleFunc("GET /api/v1/purchases/{id}", a.requireAuth(a.handleGetPurchase, "admin"))
	mux.HandleFunc("PUT /api/v1/purchases/{id}", a.requireAuth(a.handleUpdatePurchase, "admin"))
	mux.HandleFunc("POST /api/v1/purchases/{id}/confirm", a.requireAuth(a.handleConfirmPurchase, "admin"))
	mux.HandleFunc("POST /api/v1/purchases/{id}/receive", a.requireAuth(a.handleReceivePurchase, "admin"))
	mux.HandleFunc("POST /api/v1/purchases/{id}/revert", a.requireAuth(a.handleRevertPurchase, "admin"))

	mux.HandleFunc("GET /api/v1/reports/daily", a.requireAuth(a.handleDailyReport, "admin"))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, "admin"))
	mux.HandleFunc("GET /api/v1/reconciliation-events", a.requireAuth(a.handleReconciliationEvents, "admin"))
	mux.HandleFunc("GET /api/v1/users/cashiers", a.requireAuth(a.handleListCashiers, "admin"))
	mux.HandleFunc("POST /api/v1/users/cashiers", a.requireAuth(a.handleCreateCashier, "admin"))

	return a.withMiddleware(mux)
}

// requireAuth checks the bearer token and role, then opens a session for the
// token's store and terminal that lives as long as the request.
func (a *API) requireAuth(next sessionHandler, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		ctx := service.WithActor(r.Context(), actor)
		sess := session.New(a.shifts, actor.StoreID, actor.TerminalID)
		if err := sess.Init(ctx); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		defer sess.Clear()

		next(w, r.WithContext(ctx), sess)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		status := http.StatusUnauthorized
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.generateCSRFToken()})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces the X-CSRF-Token header on state-changing methods.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	if slices.Contains(csrfExemptPaths, r.URL.Path) {
		return true
	}
	if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	products, err := a.service.ListProducts(r.Context(), sess)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleSaveProduct(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req domain.ProductSaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	product, err := a.service.SaveProduct(r.Context(), sess, id, req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	status := http.StatusOK
	if id == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"product": product})
}

func (a *API) handleDeleteProduct(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := a.service.DeleteProduct(r.Context(), sess, r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	threshold := parsePositiveLimit(r.URL.Query().Get("threshold"), 5, 10000)
	items, err := a.service.LowStock(r.Context(), sess, threshold)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	settings, err := a.service.GetSettings(r.Context(), sess)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (a *API) handleSaveSettings(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req domain.SettingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	settings, err := a.service.SaveSettings(r.Context(), sess, req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (a *API) handleTotals(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req domain.TotalsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	totals, err := a.service.PreviewTotals(r.Context(), sess, req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (a *API) handleListShifts(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 30, 200)
	shifts, err := a.service.ListShifts(r.Context(), sess, limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shifts": shifts})
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	active, err := a.service.ActiveShift(r.Context(), sess)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, service.ErrNoOpenShift) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, active)
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req domain.ShiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shift, err := a.service.OpenShift(r.Context(), sess, req)
	writeResult(w, http.StatusCreated, map[string]any{"shift": shift}, err)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req domain.ShiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := a.service.CloseShift(r.Context(), sess, req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleMovement(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req domain.MovementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	movement, err := a.service.RecordMovement(r.Context(), sess, req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement": movement})
}

func (a *API) handleShiftSummary(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	id := r.PathValue("id")
	if id == "active" {
		id = ""
	}
	summary, err := a.service.ShiftSummary(r.Context(), sess, id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleShiftMovements(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	movements, err := a.service.ListMovements(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	resp, err := a.service.Checkout(r.Context(), sess, req)
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeResult(w, status, map[string]any{"transaction": resp.Transaction, "duplicate": resp.Duplicate}, err)
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	query := r.URL.Query()
	filter := domain.TransactionFilter{ShiftID: strings.TrimSpace(query.Get("shift_id"))}
	var err error
	if filter.From, err = parseTimeParam(query.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.To, err = parseTimeParam(query.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	txs, err := a.service.ListTransactions(r.Context(), sess, filter)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (a *API) handleListSuppliers(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	suppliers, err := a.service.ListSuppliers(r.Context(), sess)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
}

func (a *API) handleCreateSupplier(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req domain.SupplierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	supplier, err := a.service.CreateSupplier(r.Context(), sess, req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
}

func (a *API) handleListPurchases(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	purchases, err := a.service.ListPurchases(r.Context(), sess, r.URL.Query().Get("status"), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": purchases})
}

func (a *API) handleCreatePurchase(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req domain.PurchaseSaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	purchase, err := a.service.CreatePurchase(r.Context(), sess, req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"purchase": purchase})
}

func (a *API) handleGetPurchase(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	purchase, err := a.service.GetPurchase(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase": purchase})
}

func (a *API) handleUpdatePurchase(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req domain.PurchaseSaveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	purchase, err := a.service.UpdatePurchase(r.Context(), sess, r.PathValue("id"), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchase": purchase})
}

func (a *API) handleConfirmPurchase(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	resp, err := a.service.ConfirmPurchase(r.Context(), sess, r.PathValue("id"))
	writeResult(w, http.StatusOK, map[string]any{"purchase": resp.Purchase, "applied": resp.Applied}, err)
}

func (a *API) handleReceivePurchase(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	resp, err := a.service.ConfirmReception(r.Context(), sess, r.PathValue("id"))
	writeResult(w, http.StatusOK, map[string]any{"purchase": resp.Purchase, "applied": resp.Applied}, err)
}

func (a *API) handleRevertPurchase(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	resp, err := a.service.RevertReception(r.Context(), sess, r.PathValue("id"))
	writeResult(w, http.StatusOK, map[string]any{"purchase": resp.Purchase, "applied": resp.Applied}, err)
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	report, err := a.service.DailyReport(r.Context(), sess, r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=daily-report-%s.csv", report.Date))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(dailyReportToCSV(report)))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), sess, r.URL.Query().Get("date"), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleReconciliationEvents(w http.ResponseWriter, r *http.Request, _ *session.Session) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	pending, err := a.service.PendingReconciliations(r.Context(), int64(limit))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": pending})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request, _ *session.Session) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request, _ *session.Session) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, store.ErrConflict) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, Idempotency-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		log.Info().
			Str("component", "http").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}

// statusFor maps service and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, session.ErrClosed), errors.Is(err, session.ErrMissingScope):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, service.ErrShiftAlreadyOpen),
		errors.Is(err, service.ErrNoOpenShift),
		errors.Is(err, service.ErrShiftClosed),
		errors.Is(err, service.ErrPurchaseLocked):
		return http.StatusConflict
	case errors.Is(err, service.ErrInsufficientPayment),
		errors.Is(err, service.ErrInvalidPayment),
		errors.Is(err, service.ErrNotesRequired),
		errors.Is(err, store.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeResult writes payload on success. A reconciliation error still
// carries a committed result, so it is answered with 202 and the event.
func writeResult(w http.ResponseWriter, status int, payload map[string]any, err error) {
	if err == nil {
		writeJSON(w, status, payload)
		return
	}
	var rec *service.ReconciliationError
	if errors.As(err, &rec) {
		payload["reconciliation"] = rec.Event
		writeJSON(w, http.StatusAccepted, payload)
		return
	}
	writeError(w, statusFor(err), err)
}

func dailyReportToCSV(report domain.DailyReport) string {
	lines := []string{
		"section,key,value",
		fmt.Sprintf("summary,date,%s", report.Date),
		fmt.Sprintf("summary,store_id,%s", report.StoreID),
		fmt.Sprintf("summary,transactions,%d", report.Transactions),
		fmt.Sprintf("summary,gross_sales_cents,%d", report.GrossSalesCents),
		fmt.Sprintf("summary,discount_cents,%d", report.DiscountCents),
		fmt.Sprintf("summary,tax_cents,%d", report.TaxCents),
		fmt.Sprintf("summary,net_sales_cents,%d", report.NetSalesCents),
		fmt.Sprintf("summary,unsynced_stock_transactions,%d", report.UnsyncedStock),
	}
	for _, payment := range report.ByPayment {
		lines = append(lines, fmt.Sprintf("payment,%s_transactions,%d", payment.Method, payment.Transactions))
		lines = append(lines, fmt.Sprintf("payment,%s_total_cents,%d", payment.Method, payment.AmountCents))
	}
	return strings.Join(lines, "\n") + "\n"
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// parseTimeParam accepts RFC3339 or a bare date; empty means unset.
func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", raw)
	}
	return t.UTC(), nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log.
	msg := err.Error()
	if status >= 500 {
		log.Error().Str("component", "http").Int("status", status).Err(err).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
