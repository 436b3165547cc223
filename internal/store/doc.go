// Package store persists notification records and user preferences.
//
// The record store is where the at-most-once guarantee lives: Claim is a
// single conditional update (pending -> processing) and a zero-rows-affected
// result means another scheduler process won the record.
package store
