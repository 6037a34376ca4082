// Package storage persists sitewatch state: lane jobs, suppression windows,
// check baselines and the delivery audit trail.
//
// Drivers:
//   - sqlite (default): single database file, one connection
//   - file: snapshot + journal files, useful where cgo-free sqlite is unwanted
package storage
