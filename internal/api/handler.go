package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/grainledger/internal/audit"
	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/service"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const maxBodyBytes = 1 << 20

// Services bundles everything the handlers call into.
type Services struct {
	Ledger       *service.LedgerService
	Transfers    *service.TransferService
	Orders       *service.OrderService
	FreeVisits   *service.FreeVisitService
	Booking      *service.BookingService
	Achievements *service.AchievementService
	Auditor      *audit.Auditor
}

type Handler struct {
	svc Services
	log *zap.Logger
}

func NewHandler(svc Services, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Router wires every endpoint. /health and /metrics are mounted by the
// caller; everything under /api/v1 requires a bearer token.
func (h *Handler) Router(auth *Authenticator, limiter *RateLimiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(auth.Middleware, limiter.Middleware)

	staff := []domain.Role{domain.RoleStaff, domain.RoleAdmin}
	admin := []domain.Role{domain.RoleAdmin}

	// Grains
	v1.HandleFunc("/grains/balance", h.BalanceHandler).Methods(http.MethodGet)
	v1.HandleFunc("/grains/history", h.HistoryHandler).Methods(http.MethodGet)
	v1.HandleFunc("/grains/transfers", h.TransferHistoryHandler).Methods(http.MethodGet)
	v1.HandleFunc("/grains/transfers", h.CreateTransferHandler).Methods(http.MethodPost)
	v1.HandleFunc("/grains/transfers/{id}", h.GetTransferHandler).Methods(http.MethodGet)
	v1.HandleFunc("/grains/add", requireRole(h.AddGrainsHandler, admin...)).Methods(http.MethodPost)
	v1.HandleFunc("/grains/deduct", requireRole(h.DeductGrainsHandler, admin...)).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{id}/balance", requireRole(h.AccountBalanceHandler, staff...)).Methods(http.MethodGet)

	// Orders and receipts
	v1.HandleFunc("/orders", h.CreateOrderHandler).Methods(http.MethodPost)
	v1.HandleFunc("/orders", h.ListOrdersHandler).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{id}", h.GetOrderHandler).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{id}/receipt", h.GetReceiptHandler).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{id}/receipt/redeem", requireRole(h.RedeemOrderReceiptHandler, staff...)).Methods(http.MethodPost)
	v1.HandleFunc("/receipts/pending", requireRole(h.PendingReceiptsHandler, staff...)).Methods(http.MethodGet)
	v1.HandleFunc("/receipts/{id}/redeem", requireRole(h.RedeemReceiptHandler, staff...)).Methods(http.MethodPost)

	// Free visits
	v1.HandleFunc("/free-visits", h.FreeVisitSummaryHandler).Methods(http.MethodGet)
	v1.HandleFunc("/free-visits/purchase", h.PurchaseFreeVisitsHandler).Methods(http.MethodPost)
	v1.HandleFunc("/free-visits/use", h.UseFreeVisitHandler).Methods(http.MethodPost)
	v1.HandleFunc("/free-visits/grant", requireRole(h.GrantFreeVisitsHandler, admin...)).Methods(http.MethodPost)

	// Enrollments
	v1.HandleFunc("/enrollments", h.EnrollHandler).Methods(http.MethodPost)
	v1.HandleFunc("/enrollments", h.ListEnrollmentsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/enrollments/{id}", h.CancelEnrollmentHandler).Methods(http.MethodDelete)
	v1.HandleFunc("/enrollments/{id}/approve", requireRole(h.ApproveEnrollmentHandler, staff...)).Methods(http.MethodPost)
	v1.HandleFunc("/resources/{id}/enrollment", h.CancelResourceEnrollmentHandler).Methods(http.MethodDelete)
	v1.HandleFunc("/resources/{id}/occupancy", h.OccupancyHandler).Methods(http.MethodGet)

	// Achievements
	v1.HandleFunc("/achievements/redeem", h.RedeemAchievementHandler).Methods(http.MethodPost)
	v1.HandleFunc("/achievements/{id}/grant", requireRole(h.GrantAchievementHandler, admin...)).Methods(http.MethodPost)

	// Audit
	v1.HandleFunc("/audit", requireRole(h.LastAuditHandler, admin...)).Methods(http.MethodGet)
	v1.HandleFunc("/audit", requireRole(h.RunAuditHandler, admin...)).Methods(http.MethodPost)

	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint(r)))
		defer timer.ObserveDuration()
		next.ServeHTTP(w, r)
	})
}

// endpoint returns the route template so label cardinality stays bounded.
func endpoint(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	body := errorBody{Error: err.Error(), Code: domain.CodeOf(err)}

	switch kind {
	case domain.KindInternal:
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("endpoint", endpoint(r)),
			zap.Error(err))
		body.Error = "internal server error"
	case domain.KindTransient:
		w.Header().Set("Retry-After", "1")
	}
	respondJSON(w, r, status, body)
}

func respondJSON(w http.ResponseWriter, r *http.Request, code int, payload any) {
	httpRequestsTotal.WithLabelValues(r.Method, endpoint(r), strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

var errMalformedBody = domain.Invalid("body", "malformed JSON body")

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.Invalid("body", fmt.Sprintf("larger than %d bytes", tooLarge.Limit))
		}
		return errMalformedBody
	}
	return nil
}

func viewer(r *http.Request) service.Viewer {
	v, _ := ViewerFrom(r.Context())
	return v
}
