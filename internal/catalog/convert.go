package catalog

import (
	"fmt"
	"strconv"
)

// Scanned values arrive in whatever Go type the driver picked for the
// column; these helpers flatten the handful of catalog column shapes.

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case int:
		return int64(t)
	case uint8:
		return int64(t)
	case float64:
		return int64(t)
	case []byte:
		n, _ := strconv.ParseInt(string(t), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	case []byte:
		b, _ := strconv.ParseBool(string(t))
		return b
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return asInt64(v) != 0
}
