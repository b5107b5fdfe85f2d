package utils

import (
	"crypto/rand"
	"math/big"
	"time"
)

// bookingCodeAlphabet omits 0/O and 1/I so codes survive being read aloud.
const bookingCodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateBookingCode returns a human-shareable code such as TB2610190K7QZ3:
// the prefix, the booking date as YYMMDD and six random characters.
func GenerateBookingCode(now time.Time) string {
	suffix := make([]byte, 6)
	max := big.NewInt(int64(len(bookingCodeAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand never fails on supported platforms; fall back to the clock.
			n = big.NewInt(now.UnixNano() % int64(len(bookingCodeAlphabet)))
		}
		suffix[i] = bookingCodeAlphabet[n.Int64()]
	}
	return "TB" + now.UTC().Format("060102") + string(suffix)
}
