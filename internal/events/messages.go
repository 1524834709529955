package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/mmynk/groupledger/internal/ledger"
)

// RateDeferredMessage announces a transaction committed without a multiplier.
// The worker re-reads the transaction from the database; the message only
// says where to look.
type RateDeferredMessage struct {
	GroupID       string    `json:"group_id"`
	TransactionID string    `json:"transaction_id"`
	Currency      string    `json:"currency"`
	BaseCurrency  string    `json:"base_currency"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewRateDeferredMessage creates a message for d.
func NewRateDeferredMessage(d ledger.DeferredRate) *RateDeferredMessage {
	return &RateDeferredMessage{
		GroupID:       d.GroupID,
		TransactionID: d.TransactionID,
		Currency:      d.Currency,
		BaseCurrency:  d.BaseCurrency,
		Timestamp:     time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RateDeferredMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RateDeferredMessageFromJSON decodes a message and checks it names a group.
func RateDeferredMessageFromJSON(data []byte) (*RateDeferredMessage, error) {
	var msg RateDeferredMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.GroupID == "" {
		return nil, errors.New("rate deferred message without group id")
	}
	return &msg, nil
}
