package schema

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/AstroMined/settings-extension-sub002/internal/store"
)

// ValidationError reports a value that failed its type or constraint check.
// Validation failures are terminal: they never create a pending change and
// never reach the operation queue.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for %q: %s", e.Key, e.Reason)
}

func invalid(key, format string, args ...any) error {
	return &ValidationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// Coerce validates value against the definition's type and constraints and
// returns the normalized form: numbers become float64, other types pass
// through. It returns *ValidationError on failure.
func Coerce(key string, def store.Record, value any) (any, error) {
	switch def.Type {
	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, invalid(key, "expected boolean, got %T", value)
		}
		return b, nil

	case TypeText, TypeLongText:
		s, ok := value.(string)
		if !ok {
			return nil, invalid(key, "expected string, got %T", value)
		}
		if def.MaxLength != nil && utf8.RuneCountInString(s) > *def.MaxLength {
			return nil, invalid(key, "length %d exceeds maxLength %d", utf8.RuneCountInString(s), *def.MaxLength)
		}
		return s, nil

	case TypeNumber:
		n, ok := toFloat(value)
		if !ok {
			return nil, invalid(key, "expected number, got %T", value)
		}
		if def.Min != nil && n < *def.Min {
			return nil, invalid(key, "%v is below min %v", n, *def.Min)
		}
		if def.Max != nil && n > *def.Max {
			return nil, invalid(key, "%v exceeds max %v", n, *def.Max)
		}
		return n, nil

	case TypeJSON:
		if value == nil {
			return nil, invalid(key, "json value cannot be null")
		}
		if _, err := json.Marshal(value); err != nil {
			return nil, invalid(key, "value is not JSON-serializable: %v", err)
		}
		return value, nil

	case TypeEnum:
		s, ok := value.(string)
		if !ok {
			return nil, invalid(key, "expected enum key string, got %T", value)
		}
		if _, ok := def.Options[s]; !ok {
			return nil, invalid(key, "%q is not a valid option", s)
		}
		return s, nil

	default:
		return nil, invalid(key, "unknown setting type %q", def.Type)
	}
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
