package masking

import "strings"

const maskToken = "****"

var contactKeys = map[string]struct{}{
	"phone":   {},
	"email":   {},
	"address": {},
}

// MaskSecret redacts a contact value while keeping enough to tell entries
// apart: the mail domain, or the last four characters.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if at := strings.LastIndex(trimmed, "@"); at > 0 {
		return maskToken + trimmed[at:]
	}

	runes := []rune(trimmed)
	if len(runes) <= 4 {
		return maskToken
	}
	return maskToken + string(runes[len(runes)-4:])
}

// MaskJSON returns a copy of the input with contact fields masked at any
// depth.
func MaskJSON(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if isContact(key) {
			return MaskSecret(cast)
		}
		return cast
	case *string:
		if cast == nil {
			return nil
		}
		return maskValue(key, *cast)
	case map[string]any:
		return MaskJSON(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}

func isContact(key string) bool {
	_, ok := contactKeys[strings.ToLower(key)]
	return ok
}
