package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/conduit-lang/restkit/internal/metadata"
)

// Validator checks one value
type Validator interface {
	Validate(value any) error
}

// MinValidator validates minimum values for numeric types and string lengths
type MinValidator struct {
	Min       any
	FieldType metadata.FieldType
}

// Validate implements the Validator interface
func (v *MinValidator) Validate(value any) error {
	if value == nil {
		return nil
	}

	switch {
	case v.FieldType == metadata.TypeInt || v.FieldType == metadata.TypeBigInt:
		intVal, ok := toInt64(value)
		if !ok {
			return errors.New("This value should be of type integer.")
		}
		minVal, ok := toInt64(v.Min)
		if !ok {
			return errors.New("invalid min constraint")
		}
		if intVal < minVal {
			return fmt.Errorf("This value should be greater than or equal to %d.", minVal)
		}

	case v.FieldType.IsNumeric():
		floatVal, ok := toFloat64(value)
		if !ok {
			return errors.New("This value should be of type numeric.")
		}
		minVal, ok := toFloat64(v.Min)
		if !ok {
			return errors.New("invalid min constraint")
		}
		if floatVal < minVal {
			return fmt.Errorf("This value should be greater than or equal to %v.", minVal)
		}

	case v.FieldType.IsText():
		strVal, ok := value.(string)
		if !ok {
			return errors.New("This value should be of type string.")
		}
		minLen, ok := toInt64(v.Min)
		if !ok {
			return errors.New("invalid min constraint")
		}
		if int64(utf8.RuneCountInString(strVal)) < minLen {
			return fmt.Errorf("This value is too short. It should have %d characters or more.", minLen)
		}
	}

	return nil
}

// MaxValidator validates maximum values for numeric types and string lengths
type MaxValidator struct {
	Max       any
	FieldType metadata.FieldType
}

// Validate implements the Validator interface
func (v *MaxValidator) Validate(value any) error {
	if value == nil {
		return nil
	}

	switch {
	case v.FieldType == metadata.TypeInt || v.FieldType == metadata.TypeBigInt:
		intVal, ok := toInt64(value)
		if !ok {
			return errors.New("This value should be of type integer.")
		}
		maxVal, ok := toInt64(v.Max)
		if !ok {
			return errors.New("invalid max constraint")
		}
		if intVal > maxVal {
			return fmt.Errorf("This value should be less than or equal to %d.", maxVal)
		}

	case v.FieldType.IsNumeric():
		floatVal, ok := toFloat64(value)
		if !ok {
			return errors.New("This value should be of type numeric.")
		}
		maxVal, ok := toFloat64(v.Max)
		if !ok {
			return errors.New("invalid max constraint")
		}
		if floatVal > maxVal {
			return fmt.Errorf("This value should be less than or equal to %v.", maxVal)
		}

	case v.FieldType.IsText():
		strVal, ok := value.(string)
		if !ok {
			return errors.New("This value should be of type string.")
		}
		maxLen, ok := toInt64(v.Max)
		if !ok {
			return errors.New("invalid max constraint")
		}
		if int64(utf8.RuneCountInString(strVal)) > maxLen {
			return fmt.Errorf("This value is too long. It should have %d characters or less.", maxLen)
		}
	}

	return nil
}

// PatternValidator validates string values against a regex pattern
type PatternValidator struct {
	Pattern *regexp.Regexp
}

// Validate implements the Validator interface
func (v *PatternValidator) Validate(value any) error {
	if value == nil {
		return nil
	}

	strVal, ok := value.(string)
	if !ok {
		return errors.New("This value should be of type string.")
	}

	if !v.Pattern.MatchString(strVal) {
		return errors.New("This value is not valid.")
	}

	return nil
}

// NotBlankValidator rejects nil values and blank strings
type NotBlankValidator struct{}

// Validate implements the Validator interface
func (NotBlankValidator) Validate(value any) error {
	if value == nil {
		return errors.New("This value should not be blank.")
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return errors.New("This value should not be blank.")
	}
	return nil
}

// ChoiceValidator accepts one of a fixed set of values
type ChoiceValidator struct {
	Choices []any
}

// Validate implements the Validator interface
func (v *ChoiceValidator) Validate(value any) error {
	if value == nil {
		return nil
	}
	for _, choice := range v.Choices {
		if fmt.Sprint(choice) == fmt.Sprint(value) {
			return nil
		}
	}
	return errors.New("The value you selected is not a valid choice.")
}

// EmailValidator validates email addresses
type EmailValidator struct{}

// Validate implements the Validator interface
func (v *EmailValidator) Validate(value any) error {
	if value == nil {
		return nil
	}

	strVal, ok := value.(string)
	if !ok {
		return errors.New("This value should be of type string.")
	}

	// RFC 5322 addresses, without a display name
	addr, err := mail.ParseAddress(strVal)
	if err != nil || addr.Address != strVal {
		return errors.New("This value is not a valid email address.")
	}

	return nil
}

// URLValidator validates absolute URLs
type URLValidator struct{}

// Validate implements the Validator interface
func (v *URLValidator) Validate(value any) error {
	if value == nil {
		return nil
	}

	strVal, ok := value.(string)
	if !ok {
		return errors.New("This value should be of type string.")
	}

	parsedURL, err := url.Parse(strVal)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return errors.New("This value is not a valid URL.")
	}

	return nil
}

// UUIDValidator validates UUID strings
type UUIDValidator struct{}

// Validate implements the Validator interface
func (UUIDValidator) Validate(value any) error {
	switch v := value.(type) {
	case nil, uuid.UUID:
		return nil
	case string:
		if _, err := uuid.Parse(v); err != nil {
			return errors.New("This is not a valid UUID.")
		}
		return nil
	}
	return errors.New("This is not a valid UUID.")
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case float32:
		return int64(v), true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
