package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"retailcraft/backend/internal/domain"
	"retailcraft/backend/internal/report"
)

var (
	errNoStore      = errors.New("no store given and the token has no home store")
	errForeignStore = errors.New("only admins may read another store")
)

func (a *API) handleProcessSale(w http.ResponseWriter, r *http.Request) {
	var req domain.ProcessSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	actor := actorFrom(r)
	if actor.StoreID == "" {
		a.writeError(w, http.StatusBadRequest, errNoStore)
		return
	}
	req.TenantID = actor.TenantID
	req.StoreID = actor.StoreID
	req.UserID = actor.UserID

	sale, err := a.service.ProcessSale(r.Context(), req)
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), actorFrom(r).TenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleCreateTill(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTillRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	actor := actorFrom(r)
	req.TenantID = actor.TenantID
	if strings.TrimSpace(req.StoreID) == "" {
		req.StoreID = actor.StoreID
	}

	till, err := a.service.CreateTill(r.Context(), req)
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"till": till})
}

func (a *API) handleUpdateTenantRates(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateTenantRatesRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.TenantID = actorFrom(r).TenantID

	rates, err := a.service.UpdateTenantRates(r.Context(), req)
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rates": rates})
}

func (a *API) handleOpenTillSession(w http.ResponseWriter, r *http.Request) {
	var req domain.OpenTillSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	actor := actorFrom(r)
	req.TenantID = actor.TenantID
	req.UserID = actor.UserID

	session, err := a.service.OpenTillSession(r.Context(), req)
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": session})
}

// handleActiveTillSession looks in store_id, then the token's home store. With
// neither, the latest open session in any store is returned.
func (a *API) handleActiveTillSession(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	storeID := strings.TrimSpace(r.URL.Query().Get("store_id"))
	if storeID == "" {
		storeID = actor.StoreID
	}

	session, err := a.service.GetActiveSession(r.Context(), actor.UserID, storeID)
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	if session == nil {
		a.writeError(w, http.StatusNotFound, errors.New("no open till session"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleCloseTillSession(w http.ResponseWriter, r *http.Request) {
	var req domain.CloseTillSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.TenantID = actorFrom(r).TenantID
	req.SessionID = chi.URLParam(r, "id")

	session, err := a.service.CloseTillSession(r.Context(), req)
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (a *API) handleCashTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.CashTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := actorFrom(r)
	req.TenantID = actor.TenantID
	req.UserID = actor.UserID
	req.TillSessionID = chi.URLParam(r, "id")

	txn, err := a.service.RecordCashTransaction(r.Context(), req)
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cash_transaction": txn})
}

func (a *API) handleTillSessionReport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	rep, err := a.service.TillSessionReport(r.Context(), actorFrom(r).TenantID, sessionID)
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, map[string]any{"report": rep})
	case "xlsx":
		data, err := report.TillSessionWorkbook(rep)
		if err != nil {
			a.writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", report.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="till-session-%s.xlsx"`, rep.Session.ID))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported format %q", format))
	}
}

func (a *API) handleInventoryAdjustment(w http.ResponseWriter, r *http.Request) {
	var req domain.InventoryAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := actorFrom(r)
	req.TenantID = actor.TenantID
	req.UserID = actor.UserID
	if strings.TrimSpace(req.StoreID) == "" {
		req.StoreID = actor.StoreID
	}

	level, err := a.service.AdjustInventory(r.Context(), req)
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": level})
}

func (a *API) handleInventoryEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	actor := actorFrom(r)
	storeID := strings.TrimSpace(query.Get("store_id"))
	if storeID == "" {
		storeID = actor.StoreID
	}
	if storeID != actor.StoreID && actor.Role != RoleAdmin {
		a.writeError(w, http.StatusForbidden, errForeignStore)
		return
	}
	if storeID == "" {
		a.writeError(w, http.StatusBadRequest, errNoStore)
		return
	}

	events, err := a.service.ListInventoryEvents(r.Context(), storeID, strings.TrimSpace(query.Get("product_id")), parsePositiveLimit(query.Get("limit"), 100, 500))
	if err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
