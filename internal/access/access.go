// Package access decides who may retrieve a stored file.
//
// A request is allowed when it comes from the owner, or when it presents the
// exact geohash token recorded at upload time. Being allowed only gets the
// envelope out of storage; the location key still has to open it.
package access

import (
	"crypto/subtle"

	"github.com/dmitrijs2005/geocrypt/internal/server/models"
)

// Decision is the outcome of Authorize. The zero value denies.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Authorize applies the owner-or-token rule to record. Empty requester ids
// and empty tokens never match.
func Authorize(record *models.File, requesterID, suppliedToken string) Decision {
	if record == nil {
		return Deny
	}
	if requesterID != "" && equal(requesterID, record.OwnerID) {
		return Allow
	}
	if suppliedToken != "" && equal(suppliedToken, record.GeoToken) {
		return Allow
	}
	return Deny
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
