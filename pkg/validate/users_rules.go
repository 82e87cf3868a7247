// Package validate checks raw JSON payloads against ordered field rules.
//
// Payloads are decoded into map[string]any before validation so a rule can
// tell a missing field from a field of the wrong type. Each failed rule
// contributes one message, in rule declaration order.
package validate

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var formats = validator.New()

// Rule is one check on a single field value. present is false when the
// key is missing from the payload.
type Rule struct {
	Message string
	Check   func(value any, present bool) bool
}

// Field is a named value with its rules.
type Field struct {
	Name string
	// Optional fields skip every rule when missing or null.
	Optional bool
	Rules    []Rule
	// Nested validates an object value; messages are prefixed with Name.
	Nested Schema
	// NotObject is reported when Nested is set and the value is not an object.
	NotObject string
}

// Schema is an ordered list of fields.
type Schema []Field

// Validate returns every violation, fields and rules in declaration order.
func (s Schema) Validate(payload map[string]any) []string {
	var violations []string
	for _, f := range s {
		value, present := payload[f.Name]
		if f.Optional && (!present || value == nil) {
			continue
		}

		for _, r := range f.Rules {
			if !r.Check(value, present) {
				violations = append(violations, fmt.Sprintf("%s %s", f.Name, r.Message))
			}
		}

		if f.Nested == nil {
			continue
		}
		obj, ok := value.(map[string]any)
		if !ok {
			violations = append(violations, fmt.Sprintf("%s.%s", f.Name, f.NotObject))
			continue
		}
		for _, v := range f.Nested.Validate(obj) {
			violations = append(violations, fmt.Sprintf("%s.%s", f.Name, v))
		}
	}
	return violations
}

// ObjectID reports whether s is a 24 hex character id.
func ObjectID(s string) bool {
	return primitive.IsValidObjectID(s)
}

// =============================================================================
// Rules
// =============================================================================

// IsString fails for anything but a JSON string.
func IsString() Rule {
	return Rule{
		Message: "must be a string",
		Check: func(v any, _ bool) bool {
			_, ok := v.(string)
			return ok
		},
	}
}

// NotEmpty fails for a missing field, null and "".
func NotEmpty() Rule {
	return Rule{
		Message: "should not be empty",
		Check: func(v any, present bool) bool {
			if !present || v == nil {
				return false
			}
			s, ok := v.(string)
			return !ok || s != ""
		},
	}
}

// IsMongoID fails unless the value is a 24 hex character string.
func IsMongoID() Rule {
	return stringFormat("must be a mongodb id", ObjectID)
}

// IsEmail fails unless the value is a string with valid email syntax.
func IsEmail() Rule {
	return tagFormat("must be an email", "email")
}

// IsURL fails unless the value is a string holding an absolute URL.
func IsURL() Rule {
	return tagFormat("must be an URL address", "url")
}

// IsDate fails unless the value is a calendar-valid YYYY-MM-DD string.
func IsDate(message string) Rule {
	return tagFormat(message, "datetime=2006-01-02")
}

func tagFormat(message, tag string) Rule {
	return stringFormat(message, func(s string) bool {
		return formats.Var(s, tag) == nil
	})
}

func stringFormat(message string, ok func(string) bool) Rule {
	return Rule{
		Message: message,
		Check: func(v any, _ bool) bool {
			s, isString := v.(string)
			return isString && ok(s)
		},
	}
}
