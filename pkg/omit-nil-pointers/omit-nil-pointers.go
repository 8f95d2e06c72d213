// Package omitnilpointers builds partial JSON bodies from optional fields.
package omitnilpointers

import (
	"reflect"
)

// OmitNilPointers drops nil values and nil pointers from fields and dereferences
// the remaining pointers.
func OmitNilPointers(fields map[string]any) map[string]any {
	omitted := make(map[string]any, len(fields))
	for key, value := range fields {
		if value == nil {
			continue
		}

		v := reflect.ValueOf(value)
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				continue
			}
			omitted[key] = v.Elem().Interface()
		} else {
			omitted[key] = value
		}
	}

	return omitted
}

// NonEmpty returns nil for the zero value of T, so the field is left out.
func NonEmpty[T comparable](value T) *T {
	var zero T
	if value == zero {
		return nil
	}

	return &value
}
