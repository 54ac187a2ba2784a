package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Client is the HTTP courier gateway. It also parses addresses through the courier's
// address endpoint.
type Client struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	HTTP      *http.Client
}

func NewClient(baseURL, apiKey, secretKey string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		APIKey:    apiKey,
		SecretKey: secretKey,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

type createRequest struct {
	Invoice          string `json:"invoice"`
	RecipientName    string `json:"recipient_name"`
	RecipientPhone   string `json:"recipient_phone"`
	RecipientAddress string `json:"recipient_address"`
	RecipientCity    string `json:"recipient_city,omitempty"`
	RecipientZone    string `json:"recipient_zone,omitempty"`
	RecipientArea    string `json:"recipient_area,omitempty"`
	CODAmount        string `json:"cod_amount"`
	Note             string `json:"note,omitempty"`
}

type createResponse struct {
	Consignment Consignment `json:"consignment"`
}

func (c *Client) CreateConsignment(ctx context.Context, s Shipment) (Consignment, error) {
	body := createRequest{
		Invoice:          s.Invoice,
		RecipientName:    s.RecipientName,
		RecipientPhone:   s.RecipientPhone,
		RecipientAddress: s.Address.String(),
		RecipientCity:    s.Address.City,
		RecipientZone:    s.Address.Zone,
		RecipientArea:    s.Address.Area,
		CODAmount:        s.CODAmount.StringFixed(2),
		Note:             s.Note,
	}
	var out createResponse
	if err := c.do(ctx, "create_consignment", http.MethodPost, "/consignments", body, &out); err != nil {
		return Consignment{}, err
	}
	if out.Consignment.ID == "" {
		return Consignment{}, fmt.Errorf("%w: response without consignment id", ErrUnavailable)
	}
	return out.Consignment, nil
}

func (c *Client) ConsignmentStatus(ctx context.Context, consignmentID string) (DeliveryState, error) {
	var out DeliveryState
	path := "/consignments/" + url.PathEscape(consignmentID) + "/status"
	if err := c.do(ctx, "consignment_status", http.MethodGet, path, nil, &out); err != nil {
		return DeliveryState{}, err
	}
	out.ConsignmentID = consignmentID
	return out, nil
}

func (c *Client) CustomerSuccessRate(ctx context.Context, phone string) (SuccessRate, error) {
	var out SuccessRate
	path := "/customers/" + url.PathEscape(phone) + "/success-rate"
	if err := c.do(ctx, "success_rate", http.MethodGet, path, nil, &out); err != nil {
		return SuccessRate{}, err
	}
	return out, nil
}

func (c *Client) ParseAddress(ctx context.Context, raw string) (Address, error) {
	var out Address
	if err := c.do(ctx, "parse_address", http.MethodPost, "/addresses/parse", map[string]string{"address": raw}, &out); err != nil {
		return Address{}, err
	}
	return out, nil
}

type errorBody struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, in, out any) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "courier."+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method)))
	defer func() {
		telemetry.CourierRequests.WithLabelValues(endpoint, telemetry.Outcome(err)).Inc()
		telemetry.EndSpan(span, err)
	}()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Api-Key", c.APIKey)
	req.Header.Set("Secret-Key", c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", ErrUnavailable, endpoint, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s answered %d", ErrUnavailable, endpoint, resp.StatusCode)
	case resp.StatusCode >= 400:
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		if eb.Message == "" {
			eb.Message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: %s: %d %s", ErrRejected, endpoint, resp.StatusCode, eb.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, endpoint, err)
	}
	return nil
}
