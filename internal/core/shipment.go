package core

import (
	"errors"
	"strings"
	"time"
)

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusComplete   Status = "COMPLETE"
)

type (
	// Status is the lifecycle state of a shipment.
	Status string

	// Shipment is a single ledger record. The record store owns the
	// canonical copy; everything else works on transient values.
	Shipment struct {
		ID               int64
		Product          Product
		Quantity         int
		Destination      string
		CreatedAt        time.Time
		UnitPrice        Money // catalog price snapshot, immutable business record
		Status           Status
		ReturnedQuantity int
		CompletedAt      *time.Time
	}
)

var (
	ErrUnknownProduct   = errors.New("unknown product")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrEmptyDestination = errors.New("empty destination")
	ErrInvalidReturned  = errors.New("returned quantity out of range")
	ErrInvalidPrice     = errors.New("price must be positive")
	ErrInvalidMonthTag  = errors.New("invalid month tag")
)

func (s Status) Valid() bool {
	return s == StatusInProgress || s == StatusComplete
}

// DisplayName returns the human-readable status label.
func (s Status) DisplayName() string {
	switch s {
	case StatusInProgress:
		return "In Progress"
	case StatusComplete:
		return "Complete"
	}
	return string(s)
}

// EffectiveQuantity is the shipped quantity net of returns.
func (s Shipment) EffectiveQuantity() int {
	return s.Quantity - s.ReturnedQuantity
}

// TotalValue is the business value of the shipment at its recorded unit price.
func (s Shipment) TotalValue() Money {
	return Money{Cents: int64(s.EffectiveQuantity()) * s.UnitPrice.Cents}
}

func (s Shipment) Validate() error {
	if !s.Product.Valid() {
		return ErrUnknownProduct
	}
	if !s.Status.Valid() {
		return ErrInvalidStatus
	}
	if err := ValidateShipmentInput(s.Quantity, s.Destination, s.ReturnedQuantity); err != nil {
		return err
	}
	if err := s.UnitPrice.Validate(); err != nil {
		return err
	}
	return nil
}

// ValidateShipmentInput checks the caller-side preconditions that must hold
// before any mutating ledger call: quantity > 0, destination non-empty and
// 0 <= returned <= quantity. The ledger itself trusts these.
func ValidateShipmentInput(quantity int, destination string, returned int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if strings.TrimSpace(destination) == "" {
		return ErrEmptyDestination
	}
	if returned < 0 || returned > quantity {
		return ErrInvalidReturned
	}
	return nil
}
