// Package geo converts coordinates to and from geohash tokens.
//
// A token names a rectangular cell of the earth's surface; its length sets the
// cell size. Everything that derives keys from a location goes through
// Precision, so a token computed at upload time and one supplied at download
// time describe the same cell.
package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mmcloughlin/geohash"
)

// Precision is the token length used system-wide for stored tokens and for
// key derivation. An 8 character cell is roughly 38m x 19m.
const Precision = 8

// MaxPrecision is the longest token the codec produces or accepts.
const MaxPrecision = 12

// Alphabet is the geohash base32 alphabet.
const Alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

var (
	// ErrInvalidCoordinate is returned for out of range or non-finite
	// coordinates and for an unsupported precision.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrInvalidToken is returned for empty, overlong or non-alphabet tokens.
	ErrInvalidToken = errors.New("invalid geohash token")
)

// Encode returns the geohash of (lat, lon) with precision characters.
func Encode(lat, lon float64, precision int) (string, error) {
	if err := ValidateCoordinate(lat, lon); err != nil {
		return "", err
	}
	if precision < 1 || precision > MaxPrecision {
		return "", fmt.Errorf("%w: precision %d out of range [1,%d]", ErrInvalidCoordinate, precision, MaxPrecision)
	}
	return geohash.EncodeWithPrecision(lat, lon, uint(precision)), nil
}

// Decode returns the centre of the cell named by token.
func Decode(token string) (lat, lon float64, err error) {
	if err := Validate(token); err != nil {
		return 0, 0, err
	}
	lat, lon = geohash.DecodeCenter(token)
	return lat, lon, nil
}

// Validate reports whether token is a non-empty geohash of at most
// MaxPrecision characters from Alphabet. Upper case is rejected.
func Validate(token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	if len(token) > MaxPrecision {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidToken, len(token), MaxPrecision)
	}
	for i, r := range token {
		if !strings.ContainsRune(Alphabet, r) {
			return fmt.Errorf("%w: character %q at %d", ErrInvalidToken, r, i)
		}
	}
	return nil
}

// ValidateCoordinate checks that lat is in [-90,90], lon in [-180,180] and
// both are finite.
func ValidateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, lon)
	}
	return nil
}
