package redisx

import "time"

const (
	// Create idempotency shortcut: idem:order:create:{external_id} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Status cache: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Availability projection: availability:{product_id} -> inventory.Summary JSON
	KeyAvailability = "availability:%s"
)

var (
	TTLIdempotency  = 24 * time.Hour
	TTLStatusCache  = 5 * time.Minute
	TTLDedup        = 48 * time.Hour
	TTLAvailability = 10 * time.Minute
)
