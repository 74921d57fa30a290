package cryptox

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/dmitrijs2005/geocrypt/internal/geo"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of a location key (AES-256).
const KeySize = 32

var (
	hkdfSalt = []byte("geocrypt/location-key/salt")
	hkdfInfo = []byte("geocrypt/location-key/aes-256-gcm")
)

// DeriveLocationKey turns a coordinate into a 32 byte AES key. The coordinate
// is first encoded at geo.Precision, so any two points inside the same cell
// give the same key and points in different cells give unrelated keys.
//
// The caller owns the returned slice and should wipe it once the envelope
// operation is done. Keys are never cached.
func DeriveLocationKey(lat, lon float64) ([]byte, error) {
	token, err := geo.Encode(lat, lon, geo.Precision)
	if err != nil {
		return nil, err
	}
	return deriveTokenKey(token)
}

func deriveTokenKey(token string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(token), hkdfSalt, hkdfInfo)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}
