package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ariefcatur/go-order-fulfillment/internal/courier"
	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	*httptest.Server
	ledger  *inventory.MemoryLedger
	courier *courier.Sandbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ledger := inventory.NewMemoryLedger(
		&inventory.Product{ID: "P1", Name: "Shirt", SizeType: inventory.SizeIndividual, Variants: []inventory.Variant{
			{ID: "V1", Sizes: []inventory.SizeStock{{Size: "M", Availability: 10}, {Size: "L", Availability: 10}}},
		}},
	)
	store := orders.NewMemoryStore()
	sandbox := courier.NewSandbox()
	exec := &orders.Executor{Store: store, Ledger: ledger, Courier: sandbox, Addresses: sandbox, Publisher: events.Discard{}, Service: "test"}
	svc := &orders.Service{Store: store, Ledger: ledger, Executor: exec, Courier: sandbox, Publisher: events.Discard{}, Name: "test"}

	v := NewValidator()
	r := NewRouter(zap.NewNop())
	(&OrdersHandler{Orders: svc, Validate: v}).Register(r)
	(&InventoryHandler{Inventory: &inventory.Service{Ledger: ledger}, Validate: v}).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, ledger: ledger, courier: sandbox}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func (s *testServer) stock(t *testing.T, size string) int {
	t.Helper()
	n, err := s.ledger.Availability(context.Background(), inventory.Key{ProductID: "P1", VariantID: "V1", Size: size})
	require.NoError(t, err)
	return n
}

func decodeOrder(t *testing.T, b []byte) orders.Order {
	t.Helper()
	var o orders.Order
	require.NoError(t, json.Unmarshal(b, &o), string(b))
	return o
}

var customer = map[string]any{"name": "Rina", "phone": "01712345678", "address": "House 4, Road 2, Dhaka"}

func cart(size string, qty int) []map[string]any {
	return []map[string]any{{"product_id": "P1", "variant_id": "V1", "size": size, "quantity": qty, "unit_price": "100"}}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/orders", map[string]any{
		"external_id": "shop-1", "cart": cart("M", 2), "customer": customer, "shipping_cost": "80",
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	o := decodeOrder(t, body)
	assert.Equal(t, "280", o.Total.String())
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, 8, s.stock(t, "M"))

	code, body = s.do(t, http.MethodPost, "/orders", map[string]any{
		"external_id": "shop-1", "cart": cart("M", 2), "customer": customer, "shipping_cost": "80",
	})
	require.Equal(t, http.StatusOK, code, string(body))
	var replay struct {
		ID         string `json:"id"`
		Idempotent bool   `json:"idempotent"`
	}
	require.NoError(t, json.Unmarshal(body, &replay))
	assert.True(t, replay.Idempotent)
	assert.Equal(t, o.ID, replay.ID)
	assert.Equal(t, 8, s.stock(t, "M"))

	code, body = s.do(t, http.MethodPut, "/orders/"+o.ID, map[string]any{
		"version": o.Version, "cart": cart("M", 3), "customer": customer, "shipping_cost": "80",
	})
	require.Equal(t, http.StatusOK, code, string(body))
	o = decodeOrder(t, body)
	assert.Equal(t, "380", o.Total.String())
	assert.Equal(t, 7, s.stock(t, "M"))

	code, body = s.do(t, http.MethodPatch, "/orders/"+o.ID+"/status", map[string]any{
		"version": o.Version, "status": "confirmed", "moderator": "ops",
	})
	require.Equal(t, http.StatusOK, code, string(body))
	o = decodeOrder(t, body)
	assert.NotEmpty(t, o.ConsignmentID)

	code, body = s.do(t, http.MethodGet, "/orders/"+o.ID+"/consignment", nil)
	require.Equal(t, http.StatusOK, code, string(body))
	assert.JSONEq(t, fmt.Sprintf(`{"consignment_id":%q,"delivery_status":"in_review"}`, o.ConsignmentID), string(body))

	code, body = s.do(t, http.MethodGet, "/orders/"+o.ID+"/status", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, fmt.Sprintf(`{"order_id":%q,"status":"confirmed"}`, o.ID), string(body))

	code, body = s.do(t, http.MethodPatch, "/orders/"+o.ID+"/status", map[string]any{
		"version": o.Version, "status": "returned",
	})
	require.Equal(t, http.StatusOK, code, string(body))
	o = decodeOrder(t, body)
	assert.True(t, o.Restocked)
	assert.Equal(t, 10, s.stock(t, "M"))

	code, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/orders/%s?version=%d", o.ID, o.Version), nil)
	require.Equal(t, http.StatusNoContent, code)
	assert.Equal(t, 10, s.stock(t, "M"))

	code, _ = s.do(t, http.MethodGet, "/orders/"+o.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateOrderValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"no cart", map[string]any{"customer": customer}, "cart"},
		{"zero quantity", map[string]any{"cart": cart("M", 0), "customer": customer}, "cart[0].quantity"},
		{"no phone", map[string]any{"cart": cart("M", 1), "customer": map[string]any{"name": "Rina", "address": "Dhaka"}}, "customer.phone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := s.do(t, http.MethodPost, "/orders", tt.body)
			require.Equal(t, http.StatusBadRequest, code, string(body))
			var resp errorResp
			require.NoError(t, json.Unmarshal(body, &resp))
			assert.Contains(t, resp.Fields, tt.field)
		})
	}

	code, _ := s.do(t, http.MethodPost, "/orders", map[string]any{"cart": cart("", 1), "customer": customer})
	assert.Equal(t, http.StatusBadRequest, code, "sized product without a size")

	code, _ = s.do(t, http.MethodPost, "/orders", map[string]any{"cart": cart("M", 1), "customer": customer, "total": "1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, 10, s.stock(t, "M"))
}

func TestCreateOrderUnknownCatalogEntries(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/orders", map[string]any{
		"cart":     []map[string]any{{"product_id": "NOPE", "variant_id": "V1", "size": "M", "quantity": 1, "unit_price": "100"}},
		"customer": customer,
	})
	assert.Equal(t, http.StatusNotFound, code, string(body))

	code, body = s.do(t, http.MethodPost, "/orders", map[string]any{
		"cart":     []map[string]any{{"product_id": "P1", "variant_id": "V9", "size": "M", "quantity": 1, "unit_price": "100"}},
		"customer": customer,
	})
	assert.Equal(t, http.StatusNotFound, code, string(body))

	code, body = s.do(t, http.MethodPost, "/orders", map[string]any{"cart": cart("XXL", 1), "customer": customer})
	assert.Equal(t, http.StatusNotFound, code, string(body))
	assert.Equal(t, 10, s.stock(t, "M"))
}

func TestOrderConflictsAndBadInput(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(t, http.MethodPost, "/orders", map[string]any{"cart": cart("M", 1), "customer": customer})
	require.Equal(t, http.StatusCreated, code, string(body))
	o := decodeOrder(t, body)

	code, _ = s.do(t, http.MethodPut, "/orders/"+o.ID, map[string]any{
		"version": o.Version + 1, "cart": cart("M", 2), "customer": customer,
	})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = s.do(t, http.MethodPatch, "/orders/"+o.ID+"/status", map[string]any{"version": o.Version, "status": "lost"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodDelete, "/orders/"+o.ID, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodGet, "/orders/"+o.ID+"/consignment", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodGet, "/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestConfirmWithCourierDownKeepsStatus(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(t, http.MethodPost, "/orders", map[string]any{"cart": cart("L", 1), "customer": customer})
	require.Equal(t, http.StatusCreated, code)
	o := decodeOrder(t, body)

	s.courier.SetFail(courier.ErrUnavailable)
	code, body = s.do(t, http.MethodPatch, "/orders/"+o.ID+"/status", map[string]any{"version": o.Version, "status": "confirmed"})
	require.Equal(t, http.StatusBadGateway, code, string(body))

	var resp errorResp
	require.NoError(t, json.Unmarshal(body, &resp))
	require.NotNil(t, resp.Order)
	assert.Equal(t, orders.StatusConfirmed, resp.Order.Status)
	assert.Empty(t, resp.Order.ConsignmentID)
	assert.Equal(t, 1, resp.Order.PendingEffects)
}

func TestSuccessRate(t *testing.T) {
	s := newTestServer(t)
	s.courier.SetSuccessRate("01712345678", courier.SuccessRate{Delivered: 3, Processed: 4})

	code, body := s.do(t, http.MethodGet, "/customers/01712345678/success-rate", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"phone":"01712345678","delivered":3,"processed":4,"ratio":0.75}`, string(body))
}

func TestInventoryEndpoints(t *testing.T) {
	s := newTestServer(t)

	adj := map[string]any{
		"key": "restock-7", "reason": "restock",
		"updates": []map[string]any{{"product_id": "P1", "variant_id": "V1", "size": "L", "quantity": 5}},
	}
	code, body := s.do(t, http.MethodPost, "/inventory/adjustments", adj)
	require.Equal(t, http.StatusCreated, code, string(body))
	assert.JSONEq(t, `{"key":"restock-7","applied":true}`, string(body))

	code, body = s.do(t, http.MethodPost, "/inventory/adjustments", adj)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"key":"restock-7","applied":false}`, string(body))
	assert.Equal(t, 15, s.stock(t, "L"))

	code, body = s.do(t, http.MethodGet, "/products/P1/availability", nil)
	require.Equal(t, http.StatusOK, code)
	var sum inventory.Summary
	require.NoError(t, json.Unmarshal(body, &sum))
	assert.Equal(t, 25, sum.Total)
	assert.False(t, sum.SoldOut)

	code, _ = s.do(t, http.MethodGet, "/products/nope/availability", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodPost, "/inventory/adjustments", map[string]any{
		"key": "k", "updates": []map[string]any{{"product_id": "P1", "variant_id": "V1", "size": "L", "quantity": 0}},
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", string(body))

	code, _ = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", orders.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: %w", orders.ErrValidation, inventory.ErrProductNotFound), http.StatusNotFound},
		{fmt.Errorf("cart line P1/V1/XXL: %w", inventory.ErrKeyNotFound), http.StatusNotFound},
		{orders.ErrNotFound, http.StatusNotFound},
		{orders.ErrVersionConflict, http.StatusConflict},
		{inventory.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{courier.ErrRejected, http.StatusBadGateway},
		{fmt.Errorf("%w: intent i: %w", orders.ErrPartialFailure, courier.ErrUnavailable), http.StatusBadGateway},
		{fmt.Errorf("%w: intent i: %w", orders.ErrPartialFailure, inventory.ErrKeyNotFound), http.StatusInternalServerError},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}
