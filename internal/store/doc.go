// Package store defines interfaces for the run ledger persistence dependency.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store
