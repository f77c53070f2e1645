package commandstructure

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Command parameters come from YAML with ${VAR} expansion, so numbers and booleans
// may arrive either natively typed or as strings.

// GetStringParam returns the trimmed string value of key, or defaultValue
func GetStringParam(params map[string]any, key string, defaultValue string) string {
	if s, ok := params[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return defaultValue
}

// GetIntParam returns the integer value of key, or defaultValue when it is missing or not a number
func GetIntParam(params map[string]any, key string, defaultValue int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return defaultValue
}

// GetBoolParam returns the boolean value of key. Strings are parsed with strconv.ParseBool.
func GetBoolParam(params map[string]any, key string, defaultValue bool) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetColorParam parses a "#rgb" or "#rrggbb" color. A missing key yields defaultValue.
func GetColorParam(params map[string]any, key string, defaultValue color.Color) (color.Color, error) {
	if _, ok := params[key]; !ok {
		return defaultValue, nil
	}
	raw := GetStringParam(params, key, "")
	hex := strings.TrimPrefix(raw, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return nil, fmt.Errorf("parameter %s must be a #rgb or #rrggbb color, got %q", key, raw)
	}
	value, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("parameter %s must be a #rgb or #rrggbb color, got %q", key, raw)
	}
	return color.RGBA{R: uint8(value >> 16), G: uint8(value >> 8), B: uint8(value), A: 0xff}, nil
}

// ValidateRequiredParams checks that all required parameters are present
func ValidateRequiredParams(params map[string]any, required []string) error {
	var missing []string
	for _, key := range required {
		if _, ok := params[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required parameter(s): %s", strings.Join(missing, ", "))
	}
	return nil
}
