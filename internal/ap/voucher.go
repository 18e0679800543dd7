package ap

import (
	"crypto/rand"
	"math/big"
)

const voucherAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewVoucherNumber draws a random 5-character uppercase voucher number.
// Uniqueness is enforced by the database constraint, never by pre-checking.
func NewVoucherNumber() string {
	buf := make([]byte, 5)
	max := big.NewInt(int64(len(voucherAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			buf[i] = voucherAlphabet[0]
			continue
		}
		buf[i] = voucherAlphabet[n.Int64()]
	}
	return string(buf)
}
