package codetable

import "errors"

var (
	ErrNPIFormat   = errors.New("npi_invalid_format")
	ErrNPIChecksum = errors.New("npi_invalid_checksum")
)

// npiPrefix is the ISO card issuer prefix prepended before the Luhn check.
const npiPrefix = "80840"

// ValidNPIFormat reports whether npi is exactly ten ASCII digits.
func ValidNPIFormat(npi string) bool {
	if len(npi) != 10 {
		return false
	}
	for i := 0; i < len(npi); i++ {
		if npi[i] < '0' || npi[i] > '9' {
			return false
		}
	}
	return true
}

// NPICheckDigit computes the check digit for the first nine digits of an NPI.
func NPICheckDigit(first9 string) (int, bool) {
	if len(first9) != 9 {
		return 0, false
	}
	digits := npiPrefix + first9
	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10, true
}

// ValidNPIChecksum verifies the NPPES check digit.
func ValidNPIChecksum(npi string) bool {
	if !ValidNPIFormat(npi) {
		return false
	}
	check, ok := NPICheckDigit(npi[:9])
	return ok && int(npi[9]-'0') == check
}

// CheckNPI returns nil for a valid NPI and a typed error otherwise.
func CheckNPI(npi string) error {
	if !ValidNPIFormat(npi) {
		return ErrNPIFormat
	}
	if !ValidNPIChecksum(npi) {
		return ErrNPIChecksum
	}
	return nil
}
