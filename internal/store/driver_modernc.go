//go:build !(sqlite_vec && cgo)

package store

import (
	"database/sql/driver"
	"fmt"
	"math"

	sqlite "modernc.org/sqlite"
)

const driverName = "sqlite"

func init() {
	// Deterministic: the same blobs always produce the same similarity.
	_ = sqlite.RegisterDeterministicScalarFunction("cosine_sim", 3, cosineSimFunc)
}

// cosineSimFunc is the cosine_sim(query_blob, vec_blob, dim) SQL
// function. Malformed or mismatched rows score 0 instead of aborting
// the query, so one bad row cannot sink a whole ranking pass.
func cosineSimFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("cosine_sim expects 3 arguments")
	}
	a, err := toBlob(args[0])
	if err != nil {
		return nil, err
	}
	b, err := toBlob(args[1])
	if err != nil {
		return nil, err
	}
	dim, ok := args[2].(int64)
	if !ok {
		return nil, fmt.Errorf("cosine_sim: dim must be an integer, got %T", args[2])
	}

	av, err := decodeVector(a)
	if err != nil {
		return float64(0), nil
	}
	bv, err := decodeVector(b)
	if err != nil {
		return float64(0), nil
	}
	if int64(len(av)) != dim || int64(len(bv)) != dim {
		return float64(0), nil
	}

	var dot, na, nb float64
	for i := range av {
		x := float64(av[i])
		y := float64(bv[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return float64(0), nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

func toBlob(v driver.Value) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	default:
		return nil, fmt.Errorf("cosine_sim: expected blob, got %T", v)
	}
}
