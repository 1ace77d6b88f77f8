package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"

	FieldShipmentID  = "shipment_id"
	FieldProduct     = "product"
	FieldQuantity    = "quantity"
	FieldDestination = "destination"
	FieldStatus      = "status"
	FieldMonth       = "month"
	FieldValueCents  = "value_cents"
	FieldPriceCents  = "price_cents"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentStorage = "storage"
	ComponentCatalog = "catalog"
	ComponentLedger  = "ledger"
	ComponentAMQP    = "amqp"
)
