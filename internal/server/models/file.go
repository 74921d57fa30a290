// Package models defines server-side data models persisted in the database.
package models

import "time"

// File is the metadata record of one protected upload. The envelope itself
// lives in the blob store under StorageKey.
type File struct {
	ID       string
	Filename string
	// StorageKey addresses the envelope in both blob tiers.
	StorageKey string
	// GeoToken is the geohash cell the content key was derived from.
	GeoToken    string
	OwnerID     string
	Size        int64
	ContentType string
	// Tier is the blob tier that committed the upload ("primary" or "fallback").
	Tier      string
	CreatedAt time.Time
}
