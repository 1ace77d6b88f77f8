// Package services hosts the ledger service, the sole mutator of shipment
// records. It owns the lifecycle transition rules and fans queries out to
// the record store's filter and aggregation queries.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"shipledger/internal/amqp"
	"shipledger/internal/catalog"
	"shipledger/internal/core"
	"shipledger/internal/storage"
)

// ShipmentChange describes one committed mutation, delivered to in-process
// subscribers and, when AMQP is configured, published as an event.
type ShipmentChange struct {
	ShipmentID int64
	Change     string // amqp.ChangeCreated, ChangeUpdated, ChangeCompleted, ChangeDeleted
}

// ChangeListener receives a notification after each successful mutation.
type ChangeListener func(ShipmentChange)

// LedgerService orchestrates the record store and the price catalog.
// Mutations are serialized through an internal mutex so concurrent writers
// never interleave a read-modify-write; reads go straight to the store.
type LedgerService struct {
	storage *storage.SQLiteRepository
	catalog *catalog.PriceCatalog
	events  *amqp.Client // optional, nil when event publishing is disabled

	mu        sync.Mutex // serializes mutations
	listeners []ChangeListener
	lmu       sync.RWMutex

	now func() time.Time
}

func NewLedgerService(store *storage.SQLiteRepository, cat *catalog.PriceCatalog, events *amqp.Client) *LedgerService {
	return &LedgerService{
		storage: store,
		catalog: cat,
		events:  events,
		now:     time.Now,
	}
}

// Subscribe registers an in-process listener fired after every successful
// mutation. Listeners run synchronously on the mutating goroutine.
func (s *LedgerService) Subscribe(l ChangeListener) {
	s.lmu.Lock()
	s.listeners = append(s.listeners, l)
	s.lmu.Unlock()
}

// AddShipment creates a new IN_PROGRESS shipment, snapshotting the current
// catalog price for the product.
func (s *LedgerService) AddShipment(ctx context.Context, product core.Product, quantity int, destination string) (core.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shipment := core.Shipment{
		Product:          product,
		Quantity:         quantity,
		Destination:      destination,
		CreatedAt:        s.now().UTC(),
		UnitPrice:        s.catalog.Price(product),
		Status:           core.StatusInProgress,
		ReturnedQuantity: 0,
		CompletedAt:      nil,
	}

	id, err := s.storage.InsertShipment(ctx, shipment)
	if err != nil {
		return core.Shipment{}, fmt.Errorf("add shipment: %w", err)
	}
	shipment.ID = id

	s.notify(ctx, ShipmentChange{ShipmentID: id, Change: amqp.ChangeCreated})
	return shipment, nil
}

// UpdateShipment is the general-purpose edit. It always re-snapshots the
// unit price from the current catalog price of the (possibly changed)
// product, preserves the original creation time, and applies the
// completion-date transition rule:
//
//	IN_PROGRESS -> COMPLETE   set completedAt to now
//	COMPLETE -> IN_PROGRESS   clear completedAt
//	no transition             keep the existing completedAt
func (s *LedgerService) UpdateShipment(ctx context.Context, id int64, product core.Product, quantity int, destination string, status core.Status, returnedQuantity int) (core.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, err := s.storage.GetShipment(ctx, id)
	if err != nil {
		return core.Shipment{}, fmt.Errorf("update shipment: %w", err)
	}
	if original == nil {
		return core.Shipment{}, fmt.Errorf("update shipment %d: %w", id, storage.ErrShipmentNotFound)
	}

	var completedAt *time.Time
	switch {
	case status == core.StatusComplete && original.Status == core.StatusInProgress:
		t := s.now().UTC()
		completedAt = &t
	case status == core.StatusInProgress && original.Status == core.StatusComplete:
		completedAt = nil
	default:
		completedAt = original.CompletedAt
	}

	updated := core.Shipment{
		ID:               id,
		Product:          product,
		Quantity:         quantity,
		Destination:      destination,
		CreatedAt:        original.CreatedAt,
		UnitPrice:        s.catalog.Price(product), // re-price to today's catalog price
		Status:           status,
		ReturnedQuantity: returnedQuantity,
		CompletedAt:      completedAt,
	}

	if err := s.storage.UpdateShipment(ctx, updated); err != nil {
		return core.Shipment{}, fmt.Errorf("update shipment: %w", err)
	}

	s.notify(ctx, ShipmentChange{ShipmentID: id, Change: amqp.ChangeUpdated})
	return updated, nil
}

// CompleteShipment is the narrow completion transition: it forces COMPLETE,
// records the returned quantity and refreshes completedAt to now even when
// the shipment was already complete. Unlike UpdateShipment it never
// re-prices the record.
func (s *LedgerService) CompleteShipment(ctx context.Context, id int64, returnedQuantity int) (core.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shipment, err := s.storage.GetShipment(ctx, id)
	if err != nil {
		return core.Shipment{}, fmt.Errorf("complete shipment: %w", err)
	}
	if shipment == nil {
		return core.Shipment{}, fmt.Errorf("complete shipment %d: %w", id, storage.ErrShipmentNotFound)
	}

	completed := *shipment
	completed.Status = core.StatusComplete
	completed.ReturnedQuantity = returnedQuantity
	t := s.now().UTC()
	completed.CompletedAt = &t

	if err := s.storage.UpdateShipment(ctx, completed); err != nil {
		return core.Shipment{}, fmt.Errorf("complete shipment: %w", err)
	}

	s.notify(ctx, ShipmentChange{ShipmentID: id, Change: amqp.ChangeCompleted})
	return completed, nil
}

// DeleteShipment removes a record. Deleting an absent id is a no-op.
func (s *LedgerService) DeleteShipment(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.DeleteShipment(ctx, id); err != nil {
		return fmt.Errorf("delete shipment: %w", err)
	}

	s.notify(ctx, ShipmentChange{ShipmentID: id, Change: amqp.ChangeDeleted})
	return nil
}

// GetShipment returns a shipment by id, nil when absent.
func (s *LedgerService) GetShipment(ctx context.Context, id int64) (*core.Shipment, error) {
	return s.storage.GetShipment(ctx, id)
}

// ListShipments returns the filtered subset, newest creation first.
func (s *LedgerService) ListShipments(ctx context.Context, f core.ShipmentFilter) ([]core.Shipment, error) {
	return s.storage.ListShipments(ctx, f, storage.ScanOrder{Field: storage.OrderByCreatedAt})
}

// Totals aggregates value and count over the filtered subset.
func (s *LedgerService) Totals(ctx context.Context, f core.ShipmentFilter) (core.Totals, error) {
	return s.storage.Totals(ctx, f)
}

// AvailableCompletionMonths returns the month tags with at least one
// completed shipment, most recent first.
func (s *LedgerService) AvailableCompletionMonths(ctx context.Context) ([]string, error) {
	return s.storage.AvailableCompletionMonths(ctx)
}

// CompletedValueByMonth returns the completed income booked in one month.
func (s *LedgerService) CompletedValueByMonth(ctx context.Context, monthTag string) (core.Money, error) {
	return s.storage.CompletedValueByMonth(ctx, monthTag)
}

// CompletedShipmentsByMonth lists one completion month's shipments, newest
// completion first.
func (s *LedgerService) CompletedShipmentsByMonth(ctx context.Context, monthTag string) ([]core.Shipment, error) {
	return s.storage.CompletedShipmentsByMonth(ctx, monthTag)
}

// MonthlyIncome builds the monthly income report: one row per completion
// month, most recent first, each carrying its completed total.
func (s *LedgerService) MonthlyIncome(ctx context.Context) ([]core.MonthlyIncome, error) {
	months, err := s.storage.AvailableCompletionMonths(ctx)
	if err != nil {
		return nil, fmt.Errorf("monthly income: %w", err)
	}

	report := make([]core.MonthlyIncome, 0, len(months))
	for _, month := range months {
		total, err := s.storage.CompletedValueByMonth(ctx, month)
		if err != nil {
			return nil, fmt.Errorf("monthly income for %s: %w", month, err)
		}
		report = append(report, core.MonthlyIncome{Month: month, Total: total})
	}
	return report, nil
}

// Prices snapshots every product's current catalog price.
func (s *LedgerService) Prices() map[core.Product]core.Money {
	return s.catalog.Prices()
}

// SetPrice updates a product's catalog price. Shipments already recorded
// keep their snapshotted unit price.
func (s *LedgerService) SetPrice(ctx context.Context, product core.Product, price core.Money) error {
	return s.catalog.SetPrice(ctx, product, price)
}

// notify fans a committed change out to in-process listeners and, when
// configured, to AMQP. Event failures never fail the mutation.
func (s *LedgerService) notify(ctx context.Context, change ShipmentChange) {
	s.lmu.RLock()
	listeners := s.listeners
	s.lmu.RUnlock()
	for _, l := range listeners {
		l(change)
	}

	if s.events == nil {
		return
	}
	if err := s.events.PublishShipmentChange(ctx, change.ShipmentID, change.Change); err != nil {
		slog.ErrorContext(ctx, "Failed to publish shipment change",
			"shipment_id", change.ShipmentID,
			"change", change.Change,
			"error", err)
	}
}

// Close releases the service's collaborators.
func (s *LedgerService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.events != nil {
		if err := s.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}

	return nil
}
