package booking

import (
	"crypto/rand"
	"math/big"
)

const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewBookingNumber draws a random booking reference such as BKG-7KQ2MX.
// Uniqueness is enforced by the database, not here.
func NewBookingNumber() string {
	buf := make([]byte, 6)
	max := big.NewInt(int64(len(numberAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the platform entropy source is
			// broken; fall back to a fixed character rather than panic.
			buf[i] = numberAlphabet[0]
			continue
		}
		buf[i] = numberAlphabet[n.Int64()]
	}
	return "BKG-" + string(buf)
}
