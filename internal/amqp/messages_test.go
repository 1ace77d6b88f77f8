package amqp

import "testing"

func TestShipmentChangeMessageRoundTrip(t *testing.T) {
	msg := NewShipmentChangeMessage(42, ChangeCompleted)

	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := ShipmentChangeMessageFromJSON(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ShipmentID != 42 || decoded.Change != ChangeCompleted {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	if decoded.Timestamp.IsZero() {
		t.Fatal("timestamp lost in round trip")
	}
}

func TestShipmentChangeMessageFromJSONRejectsGarbage(t *testing.T) {
	if _, err := ShipmentChangeMessageFromJSON([]byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
}
