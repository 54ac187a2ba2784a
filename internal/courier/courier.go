// Package courier talks to the shipping courier that books and tracks consignments.
package courier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

var (
	// ErrRejected is a 4xx answer: the courier refused the request as sent.
	ErrRejected = errors.New("courier: request rejected")
	// ErrUnavailable covers transport failures, timeouts and 5xx answers.
	ErrUnavailable  = errors.New("courier: unavailable")
	ErrInvalidPhone = errors.New("courier: invalid phone number")
)

// Address is a delivery address split the way the courier routes parcels.
type Address struct {
	Line string `json:"line"`
	Area string `json:"area,omitempty"`
	Zone string `json:"zone,omitempty"`
	City string `json:"city"`
}

func (a Address) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Line, a.Area, a.Zone, a.City} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Shipment is what the courier needs to book a parcel. Invoice is unique per booking
// attempt; the courier answers a repeated invoice with the consignment it already made.
type Shipment struct {
	Invoice        string          `json:"invoice"`
	RecipientName  string          `json:"recipient_name"`
	RecipientPhone string          `json:"recipient_phone"`
	Address        Address         `json:"address"`
	CODAmount      decimal.Decimal `json:"cod_amount"`
	Note           string          `json:"note,omitempty"`
}

type Consignment struct {
	ID           string `json:"consignment_id"`
	TrackingCode string `json:"tracking_code,omitempty"`
	Status       string `json:"status"`
}

// DeliveryState is the courier's own status vocabulary, passed through as reported.
type DeliveryState struct {
	ConsignmentID string `json:"consignment_id"`
	State         string `json:"delivery_status"`
}

type SuccessRate struct {
	Delivered int `json:"delivered"`
	Processed int `json:"processed"`
}

// Ratio is delivered/processed, or 0 for a customer with no history.
func (r SuccessRate) Ratio() float64 {
	if r.Processed == 0 {
		return 0
	}
	return float64(r.Delivered) / float64(r.Processed)
}

type Gateway interface {
	CreateConsignment(ctx context.Context, s Shipment) (Consignment, error)
	ConsignmentStatus(ctx context.Context, consignmentID string) (DeliveryState, error)
	CustomerSuccessRate(ctx context.Context, phone string) (SuccessRate, error)
}

// AddressParser turns a free-text customer address into a routable Address.
type AddressParser interface {
	ParseAddress(ctx context.Context, raw string) (Address, error)
}

// NormalizePhone parses raw in region and returns it in E.164 form.
func NormalizePhone(raw, region string) (string, error) {
	p, err := libphonenumber.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPhone, raw, err)
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}
