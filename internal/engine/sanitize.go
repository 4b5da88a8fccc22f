package engine

import (
	"math"
	"math/big"
	"time"

	"github.com/duckdb/duckdb-go/v2"
)

// SanitizeValue converts a scanned DuckDB value into a JSON-safe form:
// NaN and infinities become nil, timestamps become RFC 3339 strings (dates
// without a time part render as YYYY-MM-DD), byte slices become strings and
// decimals become float64. Nested lists and structs are converted
// recursively.
func SanitizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	case *big.Int:
		if x == nil {
			return nil
		}
		if x.IsInt64() {
			return x.Int64()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	case duckdb.Decimal:
		return decimalToFloat(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = SanitizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = SanitizeValue(e)
		}
		return out
	default:
		return v
	}
}

func decimalToFloat(d duckdb.Decimal) any {
	if d.Value == nil {
		return nil
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Scale)), nil))
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(d.Value), scale).Float64()
	return f
}
