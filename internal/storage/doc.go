// Package storage is the delivery ledger: one record per send attempt or skip,
// and one summary per finished run.
//
// The ledger is bookkeeping only. Callers log and ignore its errors; a broken
// ledger never affects a broadcast.
package storage
