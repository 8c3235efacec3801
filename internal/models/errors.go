package models

import "errors"

// Error kinds shared by the draw engine, the raffle state, the table loader and the exporters.
// Call sites wrap them with context; callers match with errors.Is.
var (
	// Invalid setup: empty pool, too many prizes, unknown field.
	ErrConfiguration = errors.New("configuration error")
	// Input table does not meet the column requirements.
	ErrSchema = errors.New("schema error")
	// Operation requested out of sequence.
	ErrInvalidState = errors.New("invalid state")
	// No eligible participants remain for a required draw.
	ErrExhaustedPool = errors.New("eligible pool exhausted")
	// Selection was asked to pick from nothing.
	ErrEmptyPool = errors.New("empty pool")
	// Winner list empty at export time, or the export could not be written.
	ErrExport = errors.New("export error")

	ErrMissingField = errors.New("missing field")
)

// Kind names the error category for API responses. Unknown errors are "internal".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrExhaustedPool):
		return "exhausted_pool"
	case errors.Is(err, ErrEmptyPool):
		return "empty_pool"
	case errors.Is(err, ErrExport):
		return "export"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	default:
		return "internal"
	}
}
