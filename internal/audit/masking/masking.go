package masking

import "strings"

const maskToken = "****"

// phiKeys are metadata keys whose values identify a patient or subscriber.
var phiKeys = map[string]struct{}{
	"member_id":     {},
	"subscriber_id": {},
	"first_name":    {},
	"last_name":     {},
	"name":          {},
	"birth_date":    {},
	"dob":           {},
	"address":       {},
	"line1":         {},
	"line2":         {},
	"postal_code":   {},
	"phone":         {},
	"email":         {},
	"ssn":           {},
	"tax_id":        {},
	"group_number":  {},
}

// MaskSecret redacts a value while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// IsPHIKey reports whether values under key must be masked.
func IsPHIKey(key string) bool {
	_, ok := phiKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskPHI returns a copy of the input with PHI values masked. Nested maps and
// lists are walked; a PHI key masks everything beneath it.
func MaskPHI(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if IsPHIKey(trimmedKey) {
			masked[trimmedKey] = maskAll(value)
			continue
		}
		masked[trimmedKey] = walk(value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func walk(value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return MaskPHI(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, walk(item))
		}
		return out
	default:
		return value
	}
}

func maskAll(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskSecret(cast)
	case map[string]any:
		out := make(map[string]any, len(cast))
		for k, v := range cast {
			out[k] = maskAll(v)
		}
		return out
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskAll(item))
		}
		return out
	case nil:
		return nil
	default:
		return maskToken
	}
}
