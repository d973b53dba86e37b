package domain

import (
	"strings"
	"time"
)

// DeliveryStatus is a provider-reported delivery state for one message.
//
// The receiver stores whatever the provider posts (lower-cased) rather than
// rejecting unknown values; the constants below cover the documented set.
type DeliveryStatus string

const (
	DeliveryQueued      DeliveryStatus = "queued"
	DeliverySent        DeliveryStatus = "sent"
	DeliveryDelivered   DeliveryStatus = "delivered"
	DeliveryUndelivered DeliveryStatus = "undelivered"
	DeliveryFailed      DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsKnown() bool {
	switch s {
	case DeliveryQueued, DeliverySent, DeliveryDelivered, DeliveryUndelivered, DeliveryFailed:
		return true
	}
	return false
}

// NormalizeDeliveryStatus lower-cases and trims a provider status value.
func NormalizeDeliveryStatus(s string) DeliveryStatus {
	return DeliveryStatus(strings.ToLower(strings.TrimSpace(s)))
}

// OutboxRecord is the persisted outcome of one successful send.
// Records are created exactly once and never mutated afterwards.
type OutboxRecord struct {
	MessageSID    string    `json:"messageSid"`
	To            string    `json:"to"`
	Body          string    `json:"body"`
	DateTime      time.Time `json:"dateTime"`
	TimestampUnix int64     `json:"timestampUnix"`
}

// ReportRecord is the persisted state of the latest delivery callback for one
// message. Later callbacks for the same MessageSID overwrite the whole record
// (last-write-wins). A ReportRecord may exist without a matching OutboxRecord
// and vice versa; the MessageSID is the join key, not a foreign key.
type ReportRecord struct {
	MessageSID    string            `json:"messageSid"`
	Status        DeliveryStatus    `json:"status"`
	To            string            `json:"to,omitempty"`
	From          string            `json:"from,omitempty"`
	AccountSID    string            `json:"accountSid,omitempty"`
	DateTime      time.Time         `json:"dateTime"`
	TimestampUnix int64             `json:"timestampUnix"`
	Extra         map[string]string `json:"extra,omitempty"`
}
