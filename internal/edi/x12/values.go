package x12

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DateFormat      = "20060102"
	ShortDateFormat = "060102"
	TimeFormat      = "1504"

	// MaxControlNumber is the largest value ISA13 can carry.
	MaxControlNumber = 999999999
)

var (
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidDate          = errors.New("invalid_date")
	ErrInvalidControlNumber = errors.New("invalid_control_number")
)

// Amount renders cents as an X12 decimal: 9178 is "91.78" and 10000 is "100".
func Amount(cents int64) string {
	return decimal.New(cents, -2).String()
}

// ParseAmount converts an X12 decimal back to cents. Fractions of a cent are
// rejected.
func ParseAmount(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: %q has sub-cent precision", ErrInvalidAmount, value)
	}
	return cents.IntPart(), nil
}

func Date(t time.Time) string {
	return t.UTC().Format(DateFormat)
}

// ParseDate reads a CCYYMMDD date.
func ParseDate(value string) (time.Time, error) {
	if len(value) != len(DateFormat) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	t, err := time.Parse(DateFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return t, nil
}

// InterchangeControl formats ISA13/IEA02: nine digits, zero padded.
func InterchangeControl(n int64) string {
	return fmt.Sprintf("%09d", n)
}

// TransactionControl formats ST02/SE02: at least four digits.
func TransactionControl(n int64) string {
	return fmt.Sprintf("%04d", n)
}

// ParseControlNumber reads a numeric control number in 1..MaxControlNumber.
func ParseControlNumber(value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 1 || n > MaxControlNumber {
		return 0, fmt.Errorf("%w: %q", ErrInvalidControlNumber, value)
	}
	return n, nil
}
