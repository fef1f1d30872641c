// Package jsonguard provides defensive numeric extraction and row-shape
// validation over loosely-typed JSON values, so translators can coerce
// untrusted device payloads without ever panicking on malformed input.
package jsonguard

// Float safely coerces a decoded JSON value to *float64. encoding/json
// decodes all JSON numbers as float64, so the only numeric case to accept
// is float64 itself; anything else (string, bool, nil, object, array)
// yields a nil pointer rather than an error.
func Float(v any) *float64 {
	n, ok := v.(float64)
	if !ok {
		return nil
	}
	return &n
}

// Int safely coerces a decoded JSON value to *int. Fractional float64
// values are truncated, matching Python's int(x) on a float.
func Int(v any) *int {
	n, ok := v.(float64)
	if !ok {
		return nil
	}
	i := int(n)
	return &i
}

// Bool coerces a decoded JSON value to a float 1.0/0.0 flag, matching the
// translator convention that boolean payload fields become channel values.
// Absent or non-boolean input maps to 0.0.
func Bool(v any) float64 {
	b, ok := v.(bool)
	if !ok {
		return 0
	}
	if b {
		return 1
	}
	return 0
}

// RowsAsFloat validates a JSON matrix (array of arrays) and coerces each
// row with at least ch elements into a length-ch []float64, skipping any
// row that is not an array, is too short, or contains a non-numeric entry.
// It never errors — malformed rows are dropped silently, per the
// JSON Guard contract that extraction never raises on malformed input.
func RowsAsFloat(mat any, ch int) [][]float64 {
	var rows [][]float64
	if ch <= 0 {
		return rows
	}
	arr, ok := mat.([]any)
	if !ok {
		return rows
	}
	for _, r := range arr {
		row, ok := r.([]any)
		if !ok || len(row) < ch {
			continue
		}
		vec := make([]float64, ch)
		valid := true
		for j := 0; j < ch; j++ {
			n, ok := row[j].(float64)
			if !ok {
				valid = false
				break
			}
			vec[j] = n
		}
		if valid {
			rows = append(rows, vec)
		}
	}
	return rows
}
