package listing

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cast"
)

// Row is a listed object addressable by its numeric id.
type Row interface {
	RowID() int64
}

// RowFactory turns the raw JSON of one row into a row value.
type RowFactory[R Row] func(raw []byte) (R, error)

// Resource is a generic property bag row with typed accessors.
type Resource struct {
	id         int64
	properties map[string]interface{}
}

// NewResource creates a resource from decoded properties. The "id" property
// is required and must be numeric.
func NewResource(properties map[string]interface{}) (*Resource, error) {
	rawID, ok := properties["id"]
	if !ok || rawID == nil {
		return nil, ErrMissingRowID
	}

	id, err := cast.ToInt64E(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingRowID, rawID)
	}

	copied := make(map[string]interface{}, len(properties))
	for key, value := range properties {
		copied[key] = value
	}

	return &Resource{id: id, properties: copied}, nil
}

// ResourceFactory is a RowFactory producing *Resource rows.
func ResourceFactory(raw []byte) (*Resource, error) {
	var properties map[string]interface{}

	err := rowCodec.Unmarshal(raw, &properties)
	if err != nil {
		return nil, fmt.Errorf("parsing row: %w", err)
	}

	return NewResource(properties)
}

// StructFactory returns a RowFactory decoding each row into R.
func StructFactory[R Row]() RowFactory[R] {
	return func(raw []byte) (R, error) {
		var row R

		err := jsonCodec.Unmarshal(raw, &row)
		if err != nil {
			return row, fmt.Errorf("parsing row: %w", err)
		}

		return row, nil
	}
}

// RowID implements Row.
func (r *Resource) RowID() int64 {
	return r.id
}

// Get returns a raw property.
func (r *Resource) Get(key string) (interface{}, bool) {
	value, ok := r.properties[key]

	return value, ok
}

// String returns a property as a string, empty when missing.
func (r *Resource) String(key string) string {
	return cast.ToString(r.properties[key])
}

// Int returns a property as an int64, zero when missing or not numeric.
func (r *Resource) Int(key string) int64 {
	return cast.ToInt64(r.properties[key])
}

// Float returns a property as a float64, zero when missing or not numeric.
func (r *Resource) Float(key string) float64 {
	return cast.ToFloat64(r.properties[key])
}

// Bool returns a property as a bool, false when missing.
func (r *Resource) Bool(key string) bool {
	return cast.ToBool(r.properties[key])
}

// Time parses a property as a timestamp, zero when missing or malformed.
func (r *Resource) Time(key string) time.Time {
	return cast.ToTime(r.properties[key])
}

// Keys returns the property names in sorted order.
func (r *Resource) Keys() []string {
	keys := make([]string, 0, len(r.properties))
	for key := range r.properties {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// Properties returns a copy of every property.
func (r *Resource) Properties() map[string]interface{} {
	copied := make(map[string]interface{}, len(r.properties))
	for key, value := range r.properties {
		copied[key] = value
	}

	return copied
}

// MarshalJSON encodes the resource as its property map.
func (r *Resource) MarshalJSON() ([]byte, error) {
	return jsonCodec.Marshal(r.properties)
}

// MarshalYAML encodes the resource as its property map.
func (r *Resource) MarshalYAML() (interface{}, error) {
	return r.properties, nil
}
