package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-orders/internal/core/domain"
	"github.com/rl1809/pharmacy-orders/internal/core/service"
)

const (
	actorHeader          = "X-Actor"
	idempotencyKeyHeader = "Idempotency-Key"
	dateLayout           = "2006-01-02"
	maxBodyBytes         = 1 << 20
)

type HTTPHandler struct {
	orders    *service.OrderService
	inventory *service.InventoryService
	catalog   *service.CatalogService
	reports   *service.ReportService
	logger    *slog.Logger
}

func NewHTTPHandler(
	orders *service.OrderService,
	inventory *service.InventoryService,
	catalog *service.CatalogService,
	reports *service.ReportService,
	logger *slog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		orders:    orders,
		inventory: inventory,
		catalog:   catalog,
		reports:   reports,
		logger:    logger,
	}
}

// Routes builds the router. metrics may be nil.
func (h *HTTPHandler) Routes(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.HealthCheck)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(withActor)

		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/", h.ListInventory)
			r.Post("/medicine", h.RegisterMedicine)
			r.Put("/medicine/{id}/price", h.UpdatePrice)
			r.Put("/stock", h.AdjustStock)
			r.Post("/retire/{id}", h.RetireMedicine)
			r.Post("/restore/{id}", h.RestoreMedicine)
			r.Get("/low-stock", h.LowStock)
			r.Get("/expiring", h.Expiring)
		})

		r.Get("/suppliers", h.ListSuppliers)
		r.Post("/suppliers", h.RegisterSupplier)
		r.Get("/suppliers/performance", h.SupplierPerformance)

		r.Get("/customers", h.ListCustomers)
		r.Post("/customers", h.RegisterCustomer)

		r.Get("/reports/sales-summary", h.SalesSummary)
		r.Get("/reports/audit-log", h.AuditLog)
		r.Get("/reports/above-average-price", h.AboveAveragePrice)
	})
	return r
}

func (h *HTTPHandler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.LogAttrs(r.Context(), slog.LevelDebug, "http request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
			r = r.WithContext(domain.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

type ErrorResponse struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable,omitempty"`
	MedicineID int64  `json:"medicine_id,omitempty"`
	Available  *int64 `json:"available,omitempty"`
	Requested  *int64 `json:"requested,omitempty"`
}

type LineBody struct {
	MedicineID int64 `json:"medicine_id"`
	Quantity   int64 `json:"quantity"`
}

// PlaceOrderHTTPRequest accepts either the parallel items/quantities lists or lines.
type PlaceOrderHTTPRequest struct {
	RequestID  string     `json:"request_id"`
	CustomerID int64      `json:"customer_id"`
	Items      []int64    `json:"items"`
	Quantities []int64    `json:"quantities"`
	Lines      []LineBody `json:"lines"`
}

type OrderLineResponse struct {
	MedicineID int64  `json:"medicine_id"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	LineTotal  string `json:"line_total"`
}

type OrderResponse struct {
	ID          int64               `json:"id"`
	CustomerID  *int64              `json:"customer_id"`
	CreatedAt   time.Time           `json:"created_at"`
	TotalAmount string              `json:"total_amount"`
	Status      string              `json:"status"`
	Lines       []OrderLineResponse `json:"lines,omitempty"`
}

func toOrderResponse(o domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:          o.ID,
		CustomerID:  o.CustomerID,
		CreatedAt:   o.CreatedAt,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Status:      string(o.Status),
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, OrderLineResponse{
			MedicineID: l.MedicineID,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice.StringFixed(2),
			LineTotal:  l.LineTotal.StringFixed(2),
		})
	}
	return resp
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	var lines []domain.LineRequest
	if len(req.Lines) > 0 {
		if len(req.Items) > 0 || len(req.Quantities) > 0 {
			h.writeError(w, r, fmt.Errorf("%w: send either lines or items/quantities", domain.ErrInvalidOrder))
			return
		}
		for _, l := range req.Lines {
			lines = append(lines, domain.LineRequest{MedicineID: l.MedicineID, Quantity: l.Quantity})
		}
	} else {
		var err error
		if lines, err = domain.LinesFromParallel(req.Items, req.Quantities); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = r.Header.Get(idempotencyKeyHeader)
	}

	order, err := h.orders.PlaceOrder(r.Context(), service.PlaceOrderRequest{
		RequestID:  requestID,
		CustomerID: req.CustomerID,
		Lines:      lines,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(*order))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(*order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.queryInt(w, r, "limit")
	if !ok {
		return
	}
	orders, err := h.orders.ListOrders(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

type MedicineResponse struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Form       string     `json:"form"`
	Strength   string     `json:"strength"`
	UnitPrice  string     `json:"unit_price"`
	SupplierID *int64     `json:"supplier_id,omitempty"`
	ExpiryDate string     `json:"expiry_date,omitempty"`
	Active     bool       `json:"active"`
	RetiredAt  *time.Time `json:"retired_at,omitempty"`
	Quantity   *int64     `json:"quantity,omitempty"`
}

func toMedicineResponse(m domain.Medicine) MedicineResponse {
	resp := MedicineResponse{
		ID:         m.ID,
		Name:       m.Name,
		Form:       m.Form,
		Strength:   m.Strength,
		UnitPrice:  m.UnitPrice.StringFixed(2),
		SupplierID: m.SupplierID,
		Active:     m.Active,
		RetiredAt:  m.RetiredAt,
	}
	if m.ExpiryDate != nil {
		resp.ExpiryDate = m.ExpiryDate.Format(dateLayout)
	}
	return resp
}

func (h *HTTPHandler) ListInventory(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	items, err := h.catalog.ListInventory(r.Context(), includeInactive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]MedicineResponse, 0, len(items))
	for _, it := range items {
		m := toMedicineResponse(it.Medicine)
		qty := it.Quantity
		m.Quantity = &qty
		resp = append(resp, m)
	}
	writeJSON(w, http.StatusOK, resp)
}

type RegisterMedicineHTTPRequest struct {
	Name            string          `json:"name"`
	Form            string          `json:"form"`
	Strength        string          `json:"strength"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	SupplierID      *int64          `json:"supplier_id"`
	ExpiryDate      string          `json:"expiry_date"`
	InitialQuantity int64           `json:"initial_quantity"`
}

func (h *HTTPHandler) RegisterMedicine(w http.ResponseWriter, r *http.Request) {
	var req RegisterMedicineHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	var expiry *time.Time
	if req.ExpiryDate != "" {
		d, err := time.Parse(dateLayout, req.ExpiryDate)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: expiry_date must be YYYY-MM-DD", domain.ErrInvalidInput))
			return
		}
		expiry = &d
	}

	med, err := h.catalog.RegisterMedicine(r.Context(), service.RegisterMedicineRequest{
		Name:            req.Name,
		Form:            req.Form,
		Strength:        req.Strength,
		UnitPrice:       req.UnitPrice,
		SupplierID:      req.SupplierID,
		ExpiryDate:      expiry,
		InitialQuantity: req.InitialQuantity,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := toMedicineResponse(*med)
	resp.Quantity = &req.InitialQuantity
	writeJSON(w, http.StatusCreated, resp)
}

type UpdatePriceHTTPRequest struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (h *HTTPHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req UpdatePriceHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.catalog.UpdatePrice(r.Context(), id, req.UnitPrice); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type AdjustStockHTTPRequest struct {
	MedicineID int64 `json:"medicine_id"`
	Delta      int64 `json:"delta"`
}

type InventoryResponse struct {
	MedicineID   int64 `json:"medicine_id"`
	Quantity     int64 `json:"quantity"`
	MinThreshold int64 `json:"min_threshold"`
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	rec, err := h.inventory.AdjustStock(r.Context(), req.MedicineID, req.Delta)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, InventoryResponse{
		MedicineID:   rec.MedicineID,
		Quantity:     rec.Quantity,
		MinThreshold: rec.MinThreshold,
	})
}

func (h *HTTPHandler) RetireMedicine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.inventory.Retire(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) RestoreMedicine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.inventory.Restore(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type LowStockResponse struct {
	MedicineID   int64  `json:"medicine_id"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	MinThreshold int64  `json:"min_threshold"`
}

func (h *HTTPHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.reports.LowStock(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]LowStockResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, LowStockResponse(it))
	}
	writeJSON(w, http.StatusOK, resp)
}

type ExpiringResponse struct {
	Expired    []MedicineResponse `json:"expired"`
	NearExpiry []MedicineResponse `json:"near_expiry"`
}

func (h *HTTPHandler) Expiring(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.Expiring(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := ExpiringResponse{
		Expired:    make([]MedicineResponse, 0, len(report.Expired)),
		NearExpiry: make([]MedicineResponse, 0, len(report.NearExpiry)),
	}
	for _, m := range report.Expired {
		resp.Expired = append(resp.Expired, toMedicineResponse(m))
	}
	for _, m := range report.NearExpiry {
		resp.NearExpiry = append(resp.NearExpiry, toMedicineResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

type SupplierBody struct {
	ID    int64  `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (h *HTTPHandler) RegisterSupplier(w http.ResponseWriter, r *http.Request) {
	var req SupplierBody
	if !h.decode(w, r, &req) {
		return
	}
	sup, err := h.catalog.RegisterSupplier(r.Context(), domain.Supplier{Name: req.Name, Email: req.Email, Phone: req.Phone})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SupplierBody{ID: sup.ID, Name: sup.Name, Email: sup.Email, Phone: sup.Phone})
}

func (h *HTTPHandler) ListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.catalog.ListSuppliers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]SupplierBody, 0, len(suppliers))
	for _, s := range suppliers {
		resp = append(resp, SupplierBody{ID: s.ID, Name: s.Name, Email: s.Email, Phone: s.Phone})
	}
	writeJSON(w, http.StatusOK, resp)
}

type SupplierPerformanceResponse struct {
	SupplierID     int64  `json:"supplier_id"`
	Name           string `json:"name"`
	MedicinesCount int64  `json:"medicines_count"`
	AvgPrice       string `json:"avg_price"`
	MaxPrice       string `json:"max_price"`
}

func (h *HTTPHandler) SupplierPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := h.reports.SupplierPerformance(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]SupplierPerformanceResponse, 0, len(perf))
	for _, p := range perf {
		resp = append(resp, SupplierPerformanceResponse{
			SupplierID:     p.SupplierID,
			Name:           p.Name,
			MedicinesCount: p.MedicinesCount,
			AvgPrice:       p.AvgPrice.StringFixed(2),
			MaxPrice:       p.MaxPrice.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type CustomerBody struct {
	ID      int64  `json:"id,omitempty"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

func (h *HTTPHandler) RegisterCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerBody
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.catalog.RegisterCustomer(r.Context(), domain.Customer{
		Name: req.Name, Phone: req.Phone, Email: req.Email, Address: req.Address,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CustomerBody{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email, Address: c.Address})
}

func (h *HTTPHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.catalog.ListCustomers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]CustomerBody, 0, len(customers))
	for _, c := range customers {
		resp = append(resp, CustomerBody{ID: c.ID, Name: c.Name, Phone: c.Phone, Email: c.Email, Address: c.Address})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) AboveAveragePrice(w http.ResponseWriter, r *http.Request) {
	meds, err := h.reports.AboveAveragePrice(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]MedicineResponse, 0, len(meds))
	for _, m := range meds {
		resp = append(resp, toMedicineResponse(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

type DailySalesResponse struct {
	Day        string `json:"day"`
	Orders     int64  `json:"orders"`
	TotalSales string `json:"total_sales"`
	AvgOrder   string `json:"avg_order"`
}

func (h *HTTPHandler) SalesSummary(w http.ResponseWriter, r *http.Request) {
	days, ok := h.queryInt(w, r, "days")
	if !ok {
		return
	}
	summary, err := h.reports.SalesSummary(r.Context(), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]DailySalesResponse, 0, len(summary))
	for _, d := range summary {
		resp = append(resp, DailySalesResponse{
			Day:        d.Day.Format(dateLayout),
			Orders:     d.Orders,
			TotalSales: d.TotalSales.StringFixed(2),
			AvgOrder:   d.AvgOrder.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type AuditEntryResponse struct {
	ID        int64     `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Object    string    `json:"object"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *HTTPHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.queryInt(w, r, "limit")
	if !ok {
		return
	}
	entries, err := h.reports.AuditLog(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, AuditEntryResponse{
			ID:        e.ID,
			Actor:     e.Actor,
			Action:    string(e.Action),
			Object:    string(e.Object),
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput))
		return false
	}
	return true
}

func (h *HTTPHandler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, r, fmt.Errorf("%w: id must be a positive integer", domain.ErrInvalidInput))
		return 0, false
	}
	return id, true
}

func (h *HTTPHandler) queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, key))
		return 0, false
	}
	return n, true
}

// statusFor maps the stable error codes onto HTTP statuses.
func statusFor(code string) int {
	switch code {
	case "line_count_mismatch", "invalid_request":
		return http.StatusBadRequest
	case "medicine_not_found", "customer_not_found", "not_found":
		return http.StatusNotFound
	case "insufficient_stock", "duplicate_request", "already_exists", "invalid_state":
		return http.StatusConflict
	case "expired_medicine", "medicine_retired", "inventory_record_missing":
		return http.StatusUnprocessableEntity
	case "contention":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	resp := ErrorResponse{
		Code:      code,
		Message:   err.Error(),
		Retryable: domain.IsRetryable(err),
	}
	if code == "internal" {
		h.logger.ErrorContext(r.Context(), "request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		resp.Message = "internal error"
	}

	var lineErr *domain.LineError
	if errors.As(err, &lineErr) {
		resp.MedicineID = lineErr.MedicineID
		if errors.Is(err, domain.ErrInsufficientStock) {
			resp.Available = &lineErr.Available
			resp.Requested = &lineErr.Requested
		}
	}
	if resp.Retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, statusFor(code), resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
