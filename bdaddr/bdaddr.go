// Package bdaddr parses and formats 48-bit Bluetooth device addresses.
//
// An Address is held in display order: Address{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
// formats as "00:11:22:33:44:55". The kernel's bdaddr_t stores the same address
// little-endian; use Wire and FromWire when crossing that boundary.
package bdaddr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned by Parse for text that is not six colon-separated hex octets.
var ErrMalformed = errors.New("malformed bluetooth address")

// Address is a Bluetooth device address in display (most significant octet first) order.
type Address [6]byte

// Any is the wildcard address that lets the kernel pick the local adapter.
var Any = Address{}

const hexDigits = "0123456789ABCDEF"

// Parse converts "xx:xx:xx:xx:xx:xx" into an Address. Hex digits may be upper or
// lower case; every octet must have exactly two digits.
//
// Parameters:
//   - s: The textual address
//
// Returns:
//   - The parsed Address
//   - An error wrapping ErrMalformed if s is not a valid address
func Parse(s string) (Address, error) {
	var a Address

	parts := strings.Split(s, ":")
	if len(parts) != len(a) {
		return Address{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	for i, p := range parts {
		if len(p) != 2 {
			return Address{}, fmt.Errorf("%w: %q", ErrMalformed, s)
		}

		hi, ok1 := unhex(p[0])
		lo, ok2 := unhex(p[1])
		if !ok1 || !ok2 {
			return Address{}, fmt.Errorf("%w: %q", ErrMalformed, s)
		}

		a[i] = hi<<4 | lo
	}

	return a, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return a
}

// String formats the address the way BlueZ ba2str does.
func (a Address) String() string {
	var b [17]byte
	for i, octet := range a {
		if i > 0 {
			b[i*3-1] = ':'
		}

		b[i*3] = hexDigits[octet>>4]
		b[i*3+1] = hexDigits[octet&0x0f]
	}

	return string(b[:])
}

// IsAny reports whether a is the wildcard address.
func (a Address) IsAny() bool {
	return a == Any
}

// Wire returns the address in bdaddr_t (little-endian) byte order.
func (a Address) Wire() [6]byte {
	var w [6]byte
	for i := range a {
		w[i] = a[len(a)-1-i]
	}

	return w
}

// FromWire converts a bdaddr_t (little-endian) value into an Address.
func FromWire(w [6]byte) Address {
	var a Address
	for i := range w {
		a[i] = w[len(w)-1-i]
	}

	return a
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*a = parsed
	return nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}

	return 0, false
}
