// Package storage is the relay's optional on-disk state: a journal of publish
// batch outcomes and the last id published per channel.
//
// Drivers are "file" (JSON Lines, always available) and "sqlite" (built with
// -tags sqlite).
package storage
