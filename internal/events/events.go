// Package events defines the storefront's Kafka contract: topics, the v1
// envelope and one payload per event type.
package events

import (
	"encoding/json"
	"time"
)

const (
	TopicOrderPlaced        = "order.placed"
	TopicOrderStatusChanged = "order.status.changed"
	TopicStockDepleted      = "stock.depleted"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventStockDepleted      = "StockDepleted"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g., "storefront-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Qty       int    `json:"qty"`
}

type OrderPlacedPayload struct {
	OrderID string    `json:"order_id"`
	UserID  string    `json:"user_id"`
	Items   []ItemQty `json:"items"`
	Amount  string    `json:"amount"` // decimal string
}

type OrderStatusChangedPayload struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type StockDepletedPayload struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	OrderID   string `json:"order_id,omitempty"` // order yang bikin stok habis
}

// PartitionKey = order_id, supaya semua event 1 order tetap berurutan.
func PartitionKey(id string) []byte { return []byte(id) }
