package redisx

import (
	"fmt"
	"time"
)

const (
	// Snapshot katalog (JSON) untuk listing & reconcile cart
	KeyCatalogSnapshot = "catalog:snapshot:v1"

	// Cart per user: hash cart:{user_id} -> {product_id|size: qty}
	KeyCart = "cart:%s"

	// Idempotency place order: idem:order:{user_id}:{key} -> order_id
	KeyIdemOrder = "idem:order:%s:%s"

	// Cache status order: order_status:{order_id} -> {"orderId", "userId", "status", "payment"}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLCart        = 30 * 24 * time.Hour
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func CartKey(userID string) string { return fmt.Sprintf(KeyCart, userID) }

func IdemOrderKey(userID, key string) string { return fmt.Sprintf(KeyIdemOrder, userID, key) }

func OrderStatusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func DedupKey(service, eventID string) string { return fmt.Sprintf(KeyDedup, service, eventID) }
