package internal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ErrOTPDigits is returned for a passcode length outside [4, 10].
var ErrOTPDigits = errors.New("invalid otp digits")

// NewOTP returns a uniformly random, zero-padded numeric passcode of the
// given length.
func NewOTP(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", ErrOTPDigits
	}
	space := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, space)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n.Uint64()), nil
}

// JitterDelay returns a random duration in [base, base+spread).
func JitterDelay(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(spread)))
	if err != nil {
		return base
	}
	return base + time.Duration(n.Int64())
}
