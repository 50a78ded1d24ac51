package redisx

import "time"

const (
	// Order projection cache: order:{order_number} -> order JSON
	KeyOrder = "order:%s"

	// Checkout idempotency: idem:checkout:{buyer_id}:{idempotency_key} -> record JSON
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Single-runner job lock: lock:{job}
	KeyLock = "lock:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLInFlight    = 2 * time.Minute
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
