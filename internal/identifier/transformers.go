package identifier

import (
	"fmt"
	"strconv"
	"time"

	"github.com/conduit-lang/restkit/internal/metadata"
	"github.com/google/uuid"
)

// Transformer converts a raw identifier value to the declared field type.
type Transformer interface {
	Supports(typ metadata.FieldType) bool
	Transform(raw string, typ metadata.FieldType) (any, error)
}

// DefaultTransformers returns the built-in transformers in priority order.
func DefaultTransformers() []Transformer {
	return []Transformer{
		IntegerTransformer{},
		FloatTransformer{},
		BoolTransformer{},
		UUIDTransformer{},
		DateTimeTransformer{},
	}
}

// IntegerTransformer handles int and bigint identifiers
type IntegerTransformer struct{}

func (IntegerTransformer) Supports(typ metadata.FieldType) bool {
	return typ == metadata.TypeInt || typ == metadata.TypeBigInt
}

func (IntegerTransformer) Transform(raw string, _ metadata.FieldType) (any, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expected integer, got %q", raw)
	}
	return n, nil
}

// FloatTransformer handles float and decimal identifiers
type FloatTransformer struct{}

func (FloatTransformer) Supports(typ metadata.FieldType) bool {
	return typ == metadata.TypeFloat || typ == metadata.TypeDecimal
}

func (FloatTransformer) Transform(raw string, _ metadata.FieldType) (any, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("expected number, got %q", raw)
	}
	return f, nil
}

// BoolTransformer handles boolean identifiers
type BoolTransformer struct{}

func (BoolTransformer) Supports(typ metadata.FieldType) bool { return typ == metadata.TypeBool }

func (BoolTransformer) Transform(raw string, _ metadata.FieldType) (any, error) {
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("expected boolean, got %q", raw)
	}
	return b, nil
}

// UUIDTransformer handles uuid identifiers
type UUIDTransformer struct{}

func (UUIDTransformer) Supports(typ metadata.FieldType) bool { return typ == metadata.TypeUUID }

func (UUIDTransformer) Transform(raw string, _ metadata.FieldType) (any, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return id, nil
}

// DateTimeTransformer handles timestamp and date identifiers
type DateTimeTransformer struct{}

func (DateTimeTransformer) Supports(typ metadata.FieldType) bool {
	return typ == metadata.TypeTimestamp || typ == metadata.TypeDate
}

func (DateTimeTransformer) Transform(raw string, typ metadata.FieldType) (any, error) {
	layout := time.RFC3339
	if typ == metadata.TypeDate {
		layout = time.DateOnly
	}
	t, err := time.Parse(layout, raw)
	if err != nil {
		return nil, err
	}
	return t, nil
}
