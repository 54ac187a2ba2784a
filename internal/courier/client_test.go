package courier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "key-1", "secret-1", 2*time.Second)
}

func TestClientCreateConsignment(t *testing.T) {
	var got createRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/consignments", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("Api-Key"))
		assert.Equal(t, "secret-1", r.Header.Get("Secret-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"consignment":{"consignment_id":"C-77","tracking_code":"T77","status":"in_review"}}`))
	})

	cons, err := c.CreateConsignment(context.Background(), Shipment{
		Invoice:        "inv-1",
		RecipientName:  "Rina",
		RecipientPhone: "+8801712345678",
		Address:        Address{Line: "House 4, Road 2", City: "Dhaka"},
		CODAmount:      decimal.RequireFromString("280"),
	})
	require.NoError(t, err)
	assert.Equal(t, "C-77", cons.ID)
	assert.Equal(t, "inv-1", got.Invoice)
	assert.Equal(t, "280.00", got.CODAmount)
	assert.Equal(t, "House 4, Road 2, Dhaka", got.RecipientAddress)
}

func TestClientMapsStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"bad request", http.StatusBadRequest, ErrRejected},
		{"unprocessable", http.StatusUnprocessableEntity, ErrRejected},
		{"server error", http.StatusInternalServerError, ErrUnavailable},
		{"gateway timeout", http.StatusGatewayTimeout, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			})
			_, err := c.ConsignmentStatus(context.Background(), "C-1")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClientUnreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "k", "s", 200*time.Millisecond)
	_, err := c.CustomerSuccessRate(context.Background(), "+8801712345678")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientSuccessRateAndStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/customers/+8801712345678/success-rate":
			_, _ = w.Write([]byte(`{"delivered":8,"processed":10}`))
		case "/consignments/C-9/status":
			_, _ = w.Write([]byte(`{"delivery_status":"delivered"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	rate, err := c.CustomerSuccessRate(context.Background(), "+8801712345678")
	require.NoError(t, err)
	assert.Equal(t, SuccessRate{Delivered: 8, Processed: 10}, rate)
	assert.InDelta(t, 0.8, rate.Ratio(), 1e-9)

	st, err := c.ConsignmentStatus(context.Background(), "C-9")
	require.NoError(t, err)
	assert.Equal(t, DeliveryState{ConsignmentID: "C-9", State: "delivered"}, st)
}

func TestClientRejectsEmptyConsignmentID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"consignment":{}}`))
	})
	_, err := c.CreateConsignment(context.Background(), Shipment{Invoice: "i", RecipientPhone: "p"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNormalizePhone(t *testing.T) {
	got, err := NormalizePhone("01712345678", "BD")
	require.NoError(t, err)
	assert.Equal(t, "+8801712345678", got)

	_, err = NormalizePhone("12", "BD")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}
