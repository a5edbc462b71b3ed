//go:build sqlite_vec && cgo

package store

import (
	"database/sql"
	"math"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// This build uses the cgo driver with the sqlite-vec extension loaded,
// for setups that want vec0 virtual tables alongside our schema. The
// cosine_sim function is registered per connection so queries stay
// identical across both drivers.
const driverName = "sqlite3_vec"

func init() {
	vec.Auto()
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("cosine_sim", cosineSimVec, true)
		},
	})
}

func cosineSimVec(a, b []byte, dim int64) float64 {
	av, err := decodeVector(a)
	if err != nil {
		return 0
	}
	bv, err := decodeVector(b)
	if err != nil {
		return 0
	}
	if int64(len(av)) != dim || int64(len(bv)) != dim {
		return 0
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
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
