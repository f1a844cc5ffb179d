//go:build sqlite_vec && cgo

package vectorindex

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension as an auto-loadable extension for
	// mattn/go-sqlite3, so any *sql.DB opened afterwards can create vec0
	// virtual tables.
	vec.Auto()
}
