package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/ariefcatur/go-order-fulfillment/internal/courier"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var errInvalidJSON = errors.New("invalid json")

type errorResp struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
	// Order is the committed order when a side effect failed after the commit.
	Order *orders.Order `json:"order,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NewValidator reports fields by their json names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it.
func decode(r *http.Request, v *validator.Validate, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errInvalidJSON
	}
	return v.Struct(dst)
}

func validationFields(err error) map[string]string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return nil
	}
	out := make(map[string]string, len(ves))
	for _, ve := range ves {
		// drop the root struct name
		ns := ve.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		out[ns] = ve.Tag()
	}
	return out
}

func statusOf(err error) int {
	var ves validator.ValidationErrors
	switch {
	case errors.Is(err, orders.ErrPartialFailure):
		if errors.Is(err, courier.ErrRejected) || errors.Is(err, courier.ErrUnavailable) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, inventory.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, errInvalidJSON), errors.As(err, &ves),
		errors.Is(err, orders.ErrValidation), errors.Is(err, inventory.ErrInvalidKey),
		errors.Is(err, courier.ErrInvalidPhone):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrVersionConflict), errors.Is(err, orders.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, courier.ErrRejected), errors.Is(err, courier.ErrUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError maps err to a status code. o, when set, is the order committed before a
// side effect failed.
func writeError(w http.ResponseWriter, r *http.Request, err error, o *orders.Order) {
	code := statusOf(err)
	log := logging.FromContext(r.Context())
	switch {
	case errors.Is(err, orders.ErrPartialFailure):
		log.Error("side_effect_failed", zap.Error(err))
	case code >= http.StatusInternalServerError:
		log.Error("request_failed", zap.Int("code", code), zap.Error(err))
	default:
		log.Info("request_rejected", zap.Int("code", code), zap.Error(err))
	}

	resp := errorResp{Error: err.Error(), Fields: validationFields(err)}
	if resp.Fields != nil {
		resp.Error = "validation failed"
	}
	if code == http.StatusInternalServerError && !errors.Is(err, orders.ErrPartialFailure) {
		resp.Error = "internal error"
	}
	if errors.Is(err, orders.ErrPartialFailure) {
		resp.Order = o
	}
	writeJSON(w, code, resp)
}
