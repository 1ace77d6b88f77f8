package amqp

import (
	"encoding/json"
	"time"
)

// Kinds of ledger mutations announced to subscribers.
const (
	ChangeCreated   = "created"
	ChangeUpdated   = "updated"
	ChangeCompleted = "completed"
	ChangeDeleted   = "deleted"
)

// ShipmentChangeMessage is a lightweight notification that a shipment
// mutated. Consumers re-query the ledger for current state; the message
// carries only the id and the kind of change.
type ShipmentChangeMessage struct {
	ShipmentID int64     `json:"shipment_id"`
	Change     string    `json:"change"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewShipmentChangeMessage(id int64, change string) *ShipmentChangeMessage {
	return &ShipmentChangeMessage{
		ShipmentID: id,
		Change:     change,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *ShipmentChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ShipmentChangeMessageFromJSON decodes a message from JSON bytes.
func ShipmentChangeMessageFromJSON(data []byte) (*ShipmentChangeMessage, error) {
	var msg ShipmentChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
