package core

const (
	FishSkinSaltedEgg       Product = "FISH_SKIN_SALTED_EGG"
	FishSkinOriginal        Product = "FISH_SKIN_ORIGINAL"
	FishSkinOriginalPlastic Product = "FISH_SKIN_ORIGINAL_PLASTIC"
)

// Product identifies an entry of the fixed product catalog. The identifier is
// what gets persisted; prices live in the catalog component, never here.
type Product string

// Products lists the full catalog in display order.
var Products = []Product{
	FishSkinSaltedEgg,
	FishSkinOriginal,
	FishSkinOriginalPlastic,
}

var productNames = map[Product]string{
	FishSkinSaltedEgg:       "Fish Skin Salted Egg",
	FishSkinOriginal:        "Fish Skin Original",
	FishSkinOriginalPlastic: "Fish Skin Original (Plastic)",
}

var defaultPrices = map[Product]Money{
	FishSkinSaltedEgg:       {Cents: 5_000_000},
	FishSkinOriginal:        {Cents: 4_500_000},
	FishSkinOriginalPlastic: {Cents: 4_000_000},
}

func (p Product) Valid() bool {
	_, ok := productNames[p]
	return ok
}

// DisplayName returns the human-readable product label.
func (p Product) DisplayName() string {
	if name, ok := productNames[p]; ok {
		return name
	}
	return string(p)
}

// DefaultPrice returns the built-in unit price used until an override is set.
func (p Product) DefaultPrice() Money {
	return defaultPrices[p]
}
