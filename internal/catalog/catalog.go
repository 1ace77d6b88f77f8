// Package catalog provides the price catalog: the mutable mapping from
// product to current unit price, with overrides persisted through the record
// store. It replaces the original design's globally mutable per-product
// price state with an explicit, injected component.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"shipledger/internal/core"
)

// OverrideStore persists product price overrides.
type OverrideStore interface {
	GetPrices(ctx context.Context) (map[core.Product]core.Money, error)
	SetPrice(ctx context.Context, product core.Product, price core.Money) error
}

// PriceCatalog serves current unit prices. Reads are concurrent; writes
// replace one product's price atomically and persist before becoming
// visible. Catalog changes never touch prices already snapshotted onto
// shipments.
type PriceCatalog struct {
	mu     sync.RWMutex
	store  OverrideStore
	prices map[core.Product]core.Money
}

func New(store OverrideStore) *PriceCatalog {
	return &PriceCatalog{
		store:  store,
		prices: make(map[core.Product]core.Money),
	}
}

// LoadDefaults initializes the catalog: persisted overrides win, any product
// missing from the override set gets its built-in default price.
func (c *PriceCatalog) LoadDefaults(ctx context.Context) error {
	overrides := map[core.Product]core.Money{}
	if c.store != nil {
		var err error
		overrides, err = c.store.GetPrices(ctx)
		if err != nil {
			return fmt.Errorf("load price overrides: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range core.Products {
		if price, ok := overrides[p]; ok && price.Cents > 0 {
			c.prices[p] = price
			continue
		}
		c.prices[p] = p.DefaultPrice()
	}

	slog.InfoContext(ctx, "Price catalog loaded",
		"products", len(c.prices),
		"overrides", len(overrides))
	return nil
}

// Price returns the current unit price for a product.
func (c *PriceCatalog) Price(p core.Product) core.Money {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if price, ok := c.prices[p]; ok {
		return price
	}
	return p.DefaultPrice()
}

// SetPrice replaces a product's current price and persists the override.
// Non-positive prices are rejected with core.ErrInvalidPrice.
func (c *PriceCatalog) SetPrice(ctx context.Context, p core.Product, price core.Money) error {
	if !p.Valid() {
		return core.ErrUnknownProduct
	}
	if price.Cents <= 0 {
		return core.ErrInvalidPrice
	}

	if c.store != nil {
		if err := c.store.SetPrice(ctx, p, price); err != nil {
			return fmt.Errorf("persist price: %w", err)
		}
	}

	c.mu.Lock()
	c.prices[p] = price
	c.mu.Unlock()

	slog.InfoContext(ctx, "Price updated", "product", p, "price_cents", price.Cents)
	return nil
}

// Prices returns a snapshot of every product's current price.
func (c *PriceCatalog) Prices() map[core.Product]core.Money {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[core.Product]core.Money, len(core.Products))
	for _, p := range core.Products {
		if price, ok := c.prices[p]; ok {
			out[p] = price
		} else {
			out[p] = p.DefaultPrice()
		}
	}
	return out
}
