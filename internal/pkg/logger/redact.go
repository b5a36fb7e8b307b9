package logger

import "strings"

// Mask replaces secret values in log output.
const Mask = "***"

var secretWords = []string{"password", "passphrase", "secret", "private_key"}

// IsSecretKey reports whether a parameter or field name holds a secret.
// Keboola marks encrypted parameters with a leading "#".
func IsSecretKey(key string) bool {
	if strings.Contains(key, "#") {
		return true
	}
	lower := strings.ToLower(key)
	for _, w := range secretWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// RedactMap returns a copy of m with secret values masked, recursing into nested maps.
func RedactMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if IsSecretKey(k) {
			out[k] = Mask
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = RedactMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
