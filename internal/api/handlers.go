package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/grainledger/internal/domain"
	"github.com/punchamoorthee/grainledger/internal/models"
)

const idempotencyHeader = "Idempotency-Key"

func (h *Handler) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	v := viewer(r)
	h.balance(w, r, v.AccountID)
}

func (h *Handler) AccountBalanceHandler(w http.ResponseWriter, r *http.Request) {
	h.balance(w, r, mux.Vars(r)["id"])
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request, accountID string) {
	balance, err := h.svc.Ledger.Balance(r.Context(), accountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, models.BalanceResponse{AccountID: accountID, Balance: balance})
}

func (h *Handler) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resp, err := h.svc.Ledger.History(r.Context(), viewer(r).AccountID, period)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, resp)
}

// parsePeriod reads the optional from/to query parameters. Both accept a
// date or an RFC 3339 timestamp; a bare "to" date includes that whole day.
func parsePeriod(r *http.Request) (domain.Period, error) {
	var p domain.Period
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		t, _, err := parseTime(s)
		if err != nil {
			return p, domain.Invalid("from", err.Error())
		}
		p.From = t
	}
	if s := q.Get("to"); s != "" {
		t, dateOnly, err := parseTime(s)
		if err != nil {
			return p, domain.Invalid("to", err.Error())
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		p.To = t
	}
	if !p.From.IsZero() && !p.To.IsZero() && !p.From.Before(p.To) {
		return p, domain.Invalid("period", "from must be before to")
	}
	return p, nil
}

func parseTime(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", s)
	}
	return t, false, nil
}

func (h *Handler) TransferHistoryHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.Ledger.TransferHistory(r.Context(), viewer(r).AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.svc.Transfers.Transfer(r.Context(), viewer(r).AccountID, req, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if res.Replayed {
		respondJSON(w, r, http.StatusOK, res.TransferResponse)
		return
	}
	w.Header().Set("Location", "/api/v1/grains/transfers/"+res.Transfer.ID)
	respondJSON(w, r, http.StatusCreated, res.TransferResponse)
}

func (h *Handler) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.svc.Ledger.Transfer(r.Context(), mux.Vars(r)["id"], viewer(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, transfer)
}

func (h *Handler) AddGrainsHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AdjustRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	entry, err := h.svc.Ledger.Add(r.Context(), req, viewer(r).AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, entry)
}

func (h *Handler) DeductGrainsHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AdjustRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	entry, err := h.svc.Ledger.Deduct(r.Context(), req, viewer(r).AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, entry)
}

func (h *Handler) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.svc.Orders.CreateOrder(r.Context(), viewer(r).AccountID, req, r.Header.Get(idempotencyHeader))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	if res.Replayed {
		respondJSON(w, r, http.StatusOK, res.OrderResponse)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+res.Order.ID)
	respondJSON(w, r, http.StatusCreated, res.OrderResponse)
}

func (h *Handler) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Orders.ListOrders(r.Context(), viewer(r).AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, orders)
}

func (h *Handler) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.Orders.GetOrder(r.Context(), mux.Vars(r)["id"], viewer(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, order)
}

func (h *Handler) GetReceiptHandler(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.svc.Orders.ReceiptByOrder(r.Context(), mux.Vars(r)["id"], viewer(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, receipt)
}

func (h *Handler) PendingReceiptsHandler(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.svc.Orders.PendingReceipts(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, receipts)
}

func (h *Handler) RedeemReceiptHandler(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.svc.Orders.RedeemReceipt(r.Context(), mux.Vars(r)["id"], viewer(r).AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, receipt)
}

func (h *Handler) RedeemOrderReceiptHandler(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.svc.Orders.RedeemByOrder(r.Context(), mux.Vars(r)["id"], viewer(r).AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, receipt)
}

func (h *Handler) FreeVisitSummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.FreeVisits.Summary(r.Context(), viewer(r).AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, summary)
}

func (h *Handler) PurchaseFreeVisitsHandler(w http.ResponseWriter, r *http.Request) {
	var req models.FreeVisitPurchaseRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	resp, err := h.svc.FreeVisits.Purchase(r.Context(), viewer(r).AccountID, req.Amount)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, resp)
}

func (h *Handler) UseFreeVisitHandler(w http.ResponseWriter, r *http.Request) {
	grant, err := h.svc.FreeVisits.Use(r.Context(), viewer(r).AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, grant)
}

func (h *Handler) GrantFreeVisitsHandler(w http.ResponseWriter, r *http.Request) {
	var req models.FreeVisitGrantRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	grant, err := h.svc.FreeVisits.Grant(r.Context(), req, viewer(r).AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, grant)
}

func (h *Handler) EnrollHandler(w http.ResponseWriter, r *http.Request) {
	var req models.EnrollRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.ResourceID == "" {
		h.respondError(w, r, domain.Invalid("resource_id", "is required"))
		return
	}
	enrollment, err := h.svc.Booking.Admit(r.Context(), viewer(r).AccountID, req.ResourceID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, enrollment)
}

func (h *Handler) ListEnrollmentsHandler(w http.ResponseWriter, r *http.Request) {
	enrollments, err := h.svc.Booking.ListEnrollments(r.Context(), viewer(r).AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, enrollments)
}

func (h *Handler) CancelEnrollmentHandler(w http.ResponseWriter, r *http.Request) {
	enrollment, err := h.svc.Booking.Cancel(r.Context(), viewer(r).AccountID, mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, enrollment)
}

func (h *Handler) CancelResourceEnrollmentHandler(w http.ResponseWriter, r *http.Request) {
	enrollment, err := h.svc.Booking.CancelFor(r.Context(), viewer(r).AccountID, mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, enrollment)
}

func (h *Handler) ApproveEnrollmentHandler(w http.ResponseWriter, r *http.Request) {
	enrollment, err := h.svc.Booking.Approve(r.Context(), mux.Vars(r)["id"], viewer(r).AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, enrollment)
}

func (h *Handler) OccupancyHandler(w http.ResponseWriter, r *http.Request) {
	occ, err := h.svc.Booking.Occupancy(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, occ)
}

func (h *Handler) RedeemAchievementHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RedeemRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.Kind == "" {
		req.Kind = domain.TokenCode
	}
	resp, err := h.svc.Achievements.Redeem(r.Context(), viewer(r).AccountID, req.Token, req.Kind)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, resp)
}

func (h *Handler) GrantAchievementHandler(w http.ResponseWriter, r *http.Request) {
	var req models.GrantAchievementRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.AccountID == "" {
		h.respondError(w, r, domain.Invalid("account_id", "is required"))
		return
	}
	resp, err := h.svc.Achievements.Grant(r.Context(), mux.Vars(r)["id"], req.AccountID, viewer(r).AccountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, resp)
}

// LastAuditHandler serves the most recent report, running one if none exists.
func (h *Handler) LastAuditHandler(w http.ResponseWriter, r *http.Request) {
	if report, at := h.svc.Auditor.Last(); report != nil {
		respondJSON(w, r, http.StatusOK, models.AuditResponse{AuditReport: *report, Healthy: report.Healthy(), RanAt: at})
		return
	}
	h.RunAuditHandler(w, r)
}

func (h *Handler) RunAuditHandler(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Auditor.Run(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	_, at := h.svc.Auditor.Last()
	respondJSON(w, r, http.StatusOK, models.AuditResponse{AuditReport: report, Healthy: report.Healthy(), RanAt: at})
}
