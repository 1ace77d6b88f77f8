package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shipledger/internal/core"
	"shipledger/internal/storage"
)

type shipmentDTO struct {
	ID                int64      `json:"id"`
	Product           string     `json:"product"`
	ProductName       string     `json:"product_name"`
	Quantity          int        `json:"quantity"`
	Destination       string     `json:"destination"`
	CreatedAt         time.Time  `json:"created_at"`
	UnitPriceCents    int64      `json:"unit_price_cents"`
	Status            string     `json:"status"`
	ReturnedQuantity  int        `json:"returned_quantity"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	EffectiveQuantity int        `json:"effective_quantity"`
	TotalValueCents   int64      `json:"total_value_cents"`
}

type shipmentRequest struct {
	Product          string `json:"product"`
	Quantity         int    `json:"quantity"`
	Destination      string `json:"destination"`
	Status           string `json:"status,omitempty"`
	ReturnedQuantity int    `json:"returned_quantity,omitempty"`
}

func toDTO(s core.Shipment) shipmentDTO {
	return shipmentDTO{
		ID:                s.ID,
		Product:           string(s.Product),
		ProductName:       s.Product.DisplayName(),
		Quantity:          s.Quantity,
		Destination:       s.Destination,
		CreatedAt:         s.CreatedAt,
		UnitPriceCents:    s.UnitPrice.Cents,
		Status:            string(s.Status),
		ReturnedQuantity:  s.ReturnedQuantity,
		CompletedAt:       s.CompletedAt,
		EffectiveQuantity: s.EffectiveQuantity(),
		TotalValueCents:   s.TotalValue().Cents,
	}
}

func toDTOs(shipments []core.Shipment) []shipmentDTO {
	dtos := make([]shipmentDTO, len(shipments))
	for i, s := range shipments {
		dtos[i] = toDTO(s)
	}
	return dtos
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleListShipments serves the filtered ledger view. Every criterion is
// optional and the present ones AND together.
func (s *Server) handleListShipments(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	shipments, err := s.service.ListShipments(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "List shipments failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	totals, err := s.service.Totals(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "Shipment totals failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"shipments":         toDTOs(shipments),
		"count":             totals.Count,
		"total_value_cents": totals.Value.Cents,
		"total_value":       totals.Value.String(),
	})
}

// parseFilter reads filter criteria from the query string. Dates are
// "YYYY-MM-DD"; the end bound extends to the last instant of its day so both
// bounds stay inclusive. Month tags are passed through untouched: a
// malformed tag is the soft-fail "matches nothing" case, not a request error.
func parseFilter(r *http.Request) (core.ShipmentFilter, error) {
	var f core.ShipmentFilter
	q := r.URL.Query()

	if v := strings.TrimSpace(q.Get("product")); v != "" {
		p := core.Product(v)
		if !p.Valid() {
			return f, core.ErrUnknownProduct
		}
		f.Product = &p
	}
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		st := core.Status(v)
		if !st.Valid() {
			return f, core.ErrInvalidStatus
		}
		f.Status = &st
	}
	if v := strings.TrimSpace(q.Get("start")); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			return f, errors.New("invalid start date, expected YYYY-MM-DD")
		}
		f.DateStart = &t
	}
	if v := strings.TrimSpace(q.Get("end")); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, time.UTC)
		if err != nil {
			return f, errors.New("invalid end date, expected YYYY-MM-DD")
		}
		end := t.AddDate(0, 0, 1).Add(-time.Millisecond)
		f.DateEnd = &end
	}
	f.MonthTag = strings.TrimSpace(q.Get("month"))

	return f, nil
}

func (s *Server) handleAddShipment(w http.ResponseWriter, r *http.Request) {
	var req shipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product := core.Product(strings.TrimSpace(req.Product))
	if !product.Valid() {
		writeError(w, http.StatusUnprocessableEntity, core.ErrUnknownProduct.Error())
		return
	}
	if err := core.ValidateShipmentInput(req.Quantity, req.Destination, 0); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	shipment, err := s.service.AddShipment(r.Context(), product, req.Quantity, strings.TrimSpace(req.Destination))
	if err != nil {
		slog.ErrorContext(r.Context(), "Add shipment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	writeJSON(w, http.StatusCreated, toDTO(shipment))
}

func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	shipment, err := s.service.GetShipment(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Get shipment failed", "shipment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if shipment == nil {
		writeError(w, http.StatusNotFound, "shipment not found")
		return
	}

	writeJSON(w, http.StatusOK, toDTO(*shipment))
}

func (s *Server) handleUpdateShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req shipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product := core.Product(strings.TrimSpace(req.Product))
	if !product.Valid() {
		writeError(w, http.StatusUnprocessableEntity, core.ErrUnknownProduct.Error())
		return
	}
	status := core.Status(strings.TrimSpace(req.Status))
	if !status.Valid() {
		writeError(w, http.StatusUnprocessableEntity, core.ErrInvalidStatus.Error())
		return
	}
	if err := core.ValidateShipmentInput(req.Quantity, req.Destination, req.ReturnedQuantity); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	shipment, err := s.service.UpdateShipment(r.Context(), id, product, req.Quantity,
		strings.TrimSpace(req.Destination), status, req.ReturnedQuantity)
	if err != nil {
		if errors.Is(err, storage.ErrShipmentNotFound) {
			writeError(w, http.StatusNotFound, "shipment not found")
			return
		}
		slog.ErrorContext(r.Context(), "Update shipment failed", "shipment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	writeJSON(w, http.StatusOK, toDTO(shipment))
}

func (s *Server) handleCompleteShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		ReturnedQuantity int `json:"returned_quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	current, err := s.service.GetShipment(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Get shipment failed", "shipment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if current == nil {
		writeError(w, http.StatusNotFound, "shipment not found")
		return
	}
	if req.ReturnedQuantity < 0 || req.ReturnedQuantity > current.Quantity {
		writeError(w, http.StatusUnprocessableEntity, core.ErrInvalidReturned.Error())
		return
	}

	shipment, err := s.service.CompleteShipment(r.Context(), id, req.ReturnedQuantity)
	if err != nil {
		if errors.Is(err, storage.ErrShipmentNotFound) {
			writeError(w, http.StatusNotFound, "shipment not found")
			return
		}
		slog.ErrorContext(r.Context(), "Complete shipment failed", "shipment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	writeJSON(w, http.StatusOK, toDTO(shipment))
}

func (s *Server) handleDeleteShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := s.service.DeleteShipment(r.Context(), id); err != nil {
		slog.ErrorContext(r.Context(), "Delete shipment failed", "shipment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleMonthlyIncome serves the monthly income report, one row per
// completion month, most recent first.
func (s *Server) handleMonthlyIncome(w http.ResponseWriter, r *http.Request) {
	const cacheKey = "months"
	if cached, ok := s.monthsCache.Get(cacheKey); ok {
		writeJSON(w, http.StatusOK, map[string]any{"months": cached})
		return
	}

	report, err := s.service.MonthlyIncome(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Monthly income failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	summaries := make([]monthSummary, len(report))
	for i, row := range report {
		summaries[i] = monthSummary{
			Month:      row.Month,
			Formatted:  core.FormatMonthTag(row.Month),
			TotalCents: row.Total.Cents,
			Total:      row.Total.String(),
		}
	}

	s.monthsCache.Set(cacheKey, summaries)
	writeJSON(w, http.StatusOK, map[string]any{"months": summaries})
}

// handleMonthReport serves one completion month's detail: its completed
// total plus the shipments booked in it. A malformed tag yields an empty
// report rather than an error.
func (s *Server) handleMonthReport(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")

	if cached, ok := s.monthCache.Get(tag); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	total, err := s.service.CompletedValueByMonth(r.Context(), tag)
	if err != nil {
		slog.ErrorContext(r.Context(), "Completed value failed", "month", tag, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	shipments, err := s.service.CompletedShipmentsByMonth(r.Context(), tag)
	if err != nil {
		slog.ErrorContext(r.Context(), "Completed shipments failed", "month", tag, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	report := monthReport{
		monthSummary: monthSummary{
			Month:      tag,
			Formatted:  core.FormatMonthTag(tag),
			TotalCents: total.Cents,
			Total:      total.String(),
		},
		Shipments: toDTOs(shipments),
	}

	s.monthCache.Set(tag, report)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListPrices(w http.ResponseWriter, r *http.Request) {
	prices := s.service.Prices()

	type priceDTO struct {
		Product     string `json:"product"`
		ProductName string `json:"product_name"`
		PriceCents  int64  `json:"price_cents"`
		Price       string `json:"price"`
	}
	out := make([]priceDTO, 0, len(core.Products))
	for _, p := range core.Products {
		price := prices[p]
		out = append(out, priceDTO{
			Product:     string(p),
			ProductName: p.DisplayName(),
			PriceCents:  price.Cents,
			Price:       price.String(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"prices": out})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	product := core.Product(r.PathValue("product"))
	if !product.Valid() {
		writeError(w, http.StatusNotFound, core.ErrUnknownProduct.Error())
		return
	}

	var req struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cents, err := core.ParseDecimalToCents(req.Price)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, core.ErrInvalidPrice.Error())
		return
	}

	if err := s.service.SetPrice(r.Context(), product, core.Money{Cents: cents}); err != nil {
		if errors.Is(err, core.ErrInvalidPrice) || errors.Is(err, core.ErrUnknownProduct) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Set price failed", "product", product, "error", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"product":     string(product),
		"price_cents": cents,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid shipment id")
		return 0, false
	}
	return id, true
}
