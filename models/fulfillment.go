package models

import "time"

type DeliveryStatus string

const (
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusSkipped DeliveryStatus = "skipped"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

type FulfillmentEvent struct {
	EventType  string         `json:"event_type"` // order_fulfilled
	SessionID  string         `json:"session_id"`
	Email      string         `json:"email"`
	LoopIDs    []string       `json:"loop_ids"`
	FullPack   bool           `json:"full_pack"`
	Delivery   DeliveryStatus `json:"delivery"`
	OccurredAt time.Time      `json:"occurred_at"`
}
