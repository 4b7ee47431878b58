// Package transform attaches the per-tank derived columns to a sensor table:
// average pH, reading counts per tank and per fish species, and temperature
// deviation from a standard temperature.
//
// Every function returns a new table and leaves its input untouched. Tank
// info is an explicit, optional input: operations that need it return
// ErrNoTankInfo when it is nil.
package transform
