// Package validate enforces field-level bounds at write entry points.
// Failures surface as validation errors from the shared taxonomy so the
// transport layer maps them to 422 without inspecting the message.
package validate

import (
	"fmt"
	"unicode/utf8"

	"github.com/dreyhq/drey/pkg/apierr"
)

// StringLength checks that the rune length of value is within [min, max].
func StringLength(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if n < min || n > max {
		return apierr.Validation("FIELD_LENGTH",
			fmt.Sprintf("%s must be between %d and %d characters, got %d", field, min, max, n))
	}
	return nil
}

// Count checks that a collection holds at most max elements.
func Count(field string, n, max int) error {
	if n > max {
		return apierr.Validation("FIELD_COUNT",
			fmt.Sprintf("%s must hold at most %d elements, got %d", field, max, n))
	}
	return nil
}
