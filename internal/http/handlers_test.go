package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"shipledger/internal/catalog"
	"shipledger/internal/core"
	"shipledger/internal/services"
	"shipledger/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	cat := catalog.New(repo)
	if err := cat.LoadDefaults(context.Background()); err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	svc := services.NewLedgerService(repo, cat, nil)

	srv := NewServer(":0", svc, time.Minute)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		_ = svc.Close()
	})
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func createShipment(t *testing.T, srv *Server, product string, quantity int) shipmentDTO {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/shipments", shipmentRequest{
		Product:     product,
		Quantity:    quantity,
		Destination: "Jakarta",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[shipmentDTO](t, rec)
}

func TestAddAndGetShipment(t *testing.T) {
	srv := newTestServer(t)

	created := createShipment(t, srv, string(core.FishSkinOriginal), 10)
	if created.ID == 0 || created.Status != string(core.StatusInProgress) {
		t.Fatalf("unexpected created shipment: %+v", created)
	}
	if created.CompletedAt != nil {
		t.Fatal("fresh shipment must not carry a completion date")
	}
	if created.ProductName != core.FishSkinOriginal.DisplayName() {
		t.Fatalf("product name = %q", created.ProductName)
	}

	rec := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/shipments/%d", created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	got := decodeBody[shipmentDTO](t, rec)
	if got.ID != created.ID || got.Quantity != 10 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestAddShipmentValidation(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		req  shipmentRequest
		code int
	}{
		{"unknown product", shipmentRequest{Product: "NOPE", Quantity: 1, Destination: "x"}, http.StatusUnprocessableEntity},
		{"zero quantity", shipmentRequest{Product: string(core.FishSkinOriginal), Quantity: 0, Destination: "x"}, http.StatusUnprocessableEntity},
		{"blank destination", shipmentRequest{Product: string(core.FishSkinOriginal), Quantity: 1, Destination: "   "}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/shipments", tc.req)
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.code, rec.Body.String())
			}
		})
	}

	// non-JSON body
	req := httptest.NewRequest(http.MethodPost, "/shipments", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	srv.Server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("garbage body: status %d, want 400", rec.Code)
	}
}

func TestGetShipmentNotFound(t *testing.T) {
	srv := newTestServer(t)

	if rec := doJSON(t, srv, http.MethodGet, "/shipments/999", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodGet, "/shipments/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListShipmentsWithFilterAndTotals(t *testing.T) {
	srv := newTestServer(t)

	createShipment(t, srv, string(core.FishSkinOriginal), 2)
	createShipment(t, srv, string(core.FishSkinSaltedEgg), 3)

	type listResponse struct {
		Shipments       []shipmentDTO `json:"shipments"`
		Count           int           `json:"count"`
		TotalValueCents int64         `json:"total_value_cents"`
	}

	rec := doJSON(t, srv, http.MethodGet, "/shipments", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	all := decodeBody[listResponse](t, rec)
	if all.Count != 2 || len(all.Shipments) != 2 {
		t.Fatalf("all: count %d, rows %d", all.Count, len(all.Shipments))
	}

	rec = doJSON(t, srv, http.MethodGet, "/shipments?product="+string(core.FishSkinSaltedEgg), nil)
	filtered := decodeBody[listResponse](t, rec)
	if filtered.Count != 1 || filtered.Shipments[0].Product != string(core.FishSkinSaltedEgg) {
		t.Fatalf("filtered: %+v", filtered)
	}
	if want := int64(3) * core.FishSkinSaltedEgg.DefaultPrice().Cents; filtered.TotalValueCents != want {
		t.Fatalf("filtered total = %d, want %d", filtered.TotalValueCents, want)
	}

	// invalid criteria are request errors
	if rec := doJSON(t, srv, http.MethodGet, "/shipments?product=NOPE", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad product: status %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodGet, "/shipments?status=DONE", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad status: status %d", rec.Code)
	}

	// malformed month tag fails soft: empty result, not an error
	rec = doJSON(t, srv, http.MethodGet, "/shipments?month=13-2024", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("malformed month: status %d", rec.Code)
	}
	if got := decodeBody[listResponse](t, rec); got.Count != 0 {
		t.Fatalf("malformed month matched %d records", got.Count)
	}
}

func TestUpdateShipment(t *testing.T) {
	srv := newTestServer(t)

	created := createShipment(t, srv, string(core.FishSkinOriginal), 5)

	rec := doJSON(t, srv, http.MethodPut, fmt.Sprintf("/shipments/%d", created.ID), shipmentRequest{
		Product:     string(core.FishSkinOriginal),
		Quantity:    6,
		Destination: "Bandung",
		Status:      string(core.StatusComplete),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d, body %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[shipmentDTO](t, rec)
	if updated.Quantity != 6 || updated.Destination != "Bandung" {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.CompletedAt == nil {
		t.Fatal("completing through update must stamp a completion date")
	}

	rec = doJSON(t, srv, http.MethodPut, "/shipments/999", shipmentRequest{
		Product:     string(core.FishSkinOriginal),
		Quantity:    1,
		Destination: "x",
		Status:      string(core.StatusInProgress),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing id: status %d, want 404", rec.Code)
	}
}

func TestCompleteShipment(t *testing.T) {
	srv := newTestServer(t)

	created := createShipment(t, srv, string(core.FishSkinOriginal), 10)

	rec := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/shipments/%d/complete", created.ID),
		map[string]int{"returned_quantity": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: status %d, body %s", rec.Code, rec.Body.String())
	}
	done := decodeBody[shipmentDTO](t, rec)
	if done.Status != string(core.StatusComplete) || done.ReturnedQuantity != 2 {
		t.Fatalf("unexpected completion: %+v", done)
	}
	if done.EffectiveQuantity != 8 {
		t.Fatalf("effective quantity = %d, want 8", done.EffectiveQuantity)
	}
	if done.TotalValueCents != 8*created.UnitPriceCents {
		t.Fatalf("total = %d, want %d", done.TotalValueCents, 8*created.UnitPriceCents)
	}

	// returns above the shipped quantity are rejected
	rec = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/shipments/%d/complete", created.ID),
		map[string]int{"returned_quantity": 11})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("over-return: status %d, want 422", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/shipments/999/complete", map[string]int{"returned_quantity": 0})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing id: status %d, want 404", rec.Code)
	}
}

func TestDeleteShipment(t *testing.T) {
	srv := newTestServer(t)

	created := createShipment(t, srv, string(core.FishSkinOriginal), 1)

	if rec := doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/shipments/%d", created.ID), nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/shipments/%d", created.ID), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("deleted shipment still served: status %d", rec.Code)
	}
	// deleting again is still a success
	if rec := doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/shipments/%d", created.ID), nil); rec.Code != http.StatusNoContent {
		t.Fatalf("repeat delete: status %d", rec.Code)
	}
}

func TestMonthlyIncomeReport(t *testing.T) {
	srv := newTestServer(t)

	created := createShipment(t, srv, string(core.FishSkinOriginal), 10)
	rec := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/shipments/%d/complete", created.ID),
		map[string]int{"returned_quantity": 0})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: status %d", rec.Code)
	}

	type monthsResponse struct {
		Months []monthSummary `json:"months"`
	}
	rec = doJSON(t, srv, http.MethodGet, "/reports/months", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("months: status %d", rec.Code)
	}
	months := decodeBody[monthsResponse](t, rec)
	if len(months.Months) != 1 {
		t.Fatalf("months = %d, want 1", len(months.Months))
	}
	tag := months.Months[0].Month
	wantTotal := int64(10) * created.UnitPriceCents
	if months.Months[0].TotalCents != wantTotal {
		t.Fatalf("month total = %d, want %d", months.Months[0].TotalCents, wantTotal)
	}

	rec = doJSON(t, srv, http.MethodGet, "/reports/months/"+tag, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("month report: status %d", rec.Code)
	}
	report := decodeBody[monthReport](t, rec)
	if report.TotalCents != wantTotal || len(report.Shipments) != 1 {
		t.Fatalf("month report: %+v", report)
	}
	if report.Formatted == tag {
		t.Fatalf("formatted month should be human readable, got %q", report.Formatted)
	}
}

func TestMonthReportMalformedTagIsEmpty(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/reports/months/13-2024", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	report := decodeBody[monthReport](t, rec)
	if report.TotalCents != 0 || len(report.Shipments) != 0 {
		t.Fatalf("malformed tag produced data: %+v", report)
	}
}

func TestMonthReportCacheInvalidatedByMutation(t *testing.T) {
	srv := newTestServer(t)

	created := createShipment(t, srv, string(core.FishSkinOriginal), 10)
	rec := doJSON(t, srv, http.MethodPost, fmt.Sprintf("/shipments/%d/complete", created.ID),
		map[string]int{"returned_quantity": 0})
	done := decodeBody[shipmentDTO](t, rec)
	tag := core.MonthTagOf(*done.CompletedAt)

	// prime the cache
	first := decodeBody[monthReport](t, doJSON(t, srv, http.MethodGet, "/reports/months/"+tag, nil))
	if first.TotalCents != 10*created.UnitPriceCents {
		t.Fatalf("primed total = %d", first.TotalCents)
	}

	// a new completion in the same month must show up immediately
	second := createShipment(t, srv, string(core.FishSkinOriginal), 5)
	doJSON(t, srv, http.MethodPost, fmt.Sprintf("/shipments/%d/complete", second.ID),
		map[string]int{"returned_quantity": 0})

	after := decodeBody[monthReport](t, doJSON(t, srv, http.MethodGet, "/reports/months/"+tag, nil))
	if want := int64(15) * created.UnitPriceCents; after.TotalCents != want {
		t.Fatalf("stale report after mutation: %d, want %d", after.TotalCents, want)
	}
}

func TestPriceEndpoints(t *testing.T) {
	srv := newTestServer(t)

	type pricesResponse struct {
		Prices []struct {
			Product    string `json:"product"`
			PriceCents int64  `json:"price_cents"`
		} `json:"prices"`
	}

	rec := doJSON(t, srv, http.MethodGet, "/prices", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list prices: status %d", rec.Code)
	}
	prices := decodeBody[pricesResponse](t, rec)
	if len(prices.Prices) != len(core.Products) {
		t.Fatalf("prices = %d, want %d", len(prices.Prices), len(core.Products))
	}

	rec = doJSON(t, srv, http.MethodPut, "/prices/"+string(core.FishSkinOriginal),
		map[string]string{"price": "47000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set price: status %d, body %s", rec.Code, rec.Body.String())
	}

	// the new price is served and snapshotted onto fresh shipments
	created := createShipment(t, srv, string(core.FishSkinOriginal), 1)
	if created.UnitPriceCents != 4_700_000 {
		t.Fatalf("snapshot price = %d, want 4700000", created.UnitPriceCents)
	}

	if rec := doJSON(t, srv, http.MethodPut, "/prices/NOPE", map[string]string{"price": "1"}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown product: status %d, want 404", rec.Code)
	}
	if rec := doJSON(t, srv, http.MethodPut, "/prices/"+string(core.FishSkinOriginal),
		map[string]string{"price": "-3"}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative price: status %d, want 422", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		if rec := doJSON(t, srv, http.MethodGet, path, nil); rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
	}
}
