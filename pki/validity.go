package pki

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// ValidityProvider computes the validity window for a certificate being
// issued. Implementations are pluggable strategies; the engine only requires
// notBefore < notAfter.
type ValidityProvider interface {
	Window(now time.Time) (notBefore, notAfter time.Time)
}

// FixedTermValidity issues certificates valid from now for a fixed number of
// days.
type FixedTermValidity struct {
	Days int
}

var _ ValidityProvider = FixedTermValidity{}

func (v FixedTermValidity) Window(now time.Time) (time.Time, time.Time) {
	notBefore := now.UTC()
	return notBefore, notBefore.AddDate(0, 0, v.Days)
}

// SerialSource allocates certificate serial numbers. Uniqueness is enforced
// by the persistence layer, not here; sources only need to make collisions
// unlikely.
type SerialSource interface {
	Next() (*big.Int, error)
}

// RandomSerialSource draws 63-bit positive serials from crypto/rand.
type RandomSerialSource struct{}

var _ SerialSource = RandomSerialSource{}

var maxSerial = new(big.Int).Lsh(big.NewInt(1), 63)

func (RandomSerialSource) Next() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, maxSerial)
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	// rand.Int returns [0, max); serials must be positive.
	return serial.Add(serial, big.NewInt(1)), nil
}
