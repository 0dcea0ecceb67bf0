// Package fracindex generates order keys that sort lexicographically and
// always admit a new key between any two existing ones.
//
// A key is read as a base-62 fraction 0.d1d2d3... over the digit alphabet
// below. Keys never end in the zero digit, so the space between two
// distinct keys is never empty.
package fracindex

import (
	"errors"
	"fmt"
	"strings"
)

const digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var (
	ErrInvalidKey = errors.New("invalid order key")
	ErrKeyOrder   = errors.New("order keys out of order")
)

// Validate reports whether key is a well-formed order key.
func Validate(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(digits, key[i]) < 0 {
			return fmt.Errorf("%w: %q has character %q", ErrInvalidKey, key, key[i])
		}
	}
	if key[len(key)-1] == digits[0] {
		return fmt.Errorf("%w: %q has a trailing zero digit", ErrInvalidKey, key)
	}
	return nil
}

// Between returns a key strictly between a and b. An empty a means the
// start of the key space and an empty b its end.
func Between(a, b string) (string, error) {
	if a != "" {
		if err := Validate(a); err != nil {
			return "", err
		}
	}
	if b != "" {
		if err := Validate(b); err != nil {
			return "", err
		}
	}
	if a != "" && b != "" && a >= b {
		return "", fmt.Errorf("%w: %q >= %q", ErrKeyOrder, a, b)
	}
	return midpoint(a, b), nil
}

// After returns a key greater than a; with an empty a it returns the
// first key of an empty list.
func After(a string) (string, error) {
	if a == "" {
		return "a1", nil
	}
	return Between(a, "")
}

// Before returns a key smaller than b.
func Before(b string) (string, error) {
	return Between("", b)
}

// Max returns the greatest key in keys, or "" for an empty set.
func Max(keys ...string) string {
	var out string
	for _, k := range keys {
		if k > out {
			out = k
		}
	}
	return out
}

// Sequence returns n increasing keys, all greater than after.
func Sequence(after string, n int) ([]string, error) {
	keys := make([]string, 0, n)
	prev := after
	for i := 0; i < n; i++ {
		next, err := After(prev)
		if err != nil {
			return nil, err
		}
		keys = append(keys, next)
		prev = next
	}
	return keys, nil
}

// midpoint assumes a < b, with b == "" standing for 1.
func midpoint(a, b string) string {
	if b != "" {
		n := 0
		for n < len(b) && digitAt(a, n) == b[n] {
			n++
		}
		if n > 0 {
			rest := ""
			if n < len(a) {
				rest = a[n:]
			}
			return b[:n] + midpoint(rest, b[n:])
		}
	}

	lo := 0
	if a != "" {
		lo = strings.IndexByte(digits, a[0])
	}
	hi := len(digits)
	if b != "" {
		hi = strings.IndexByte(digits, b[0])
	}
	if hi-lo > 1 {
		return string(digits[(lo+hi+1)/2])
	}
	if b != "" && len(b) > 1 {
		return b[:1]
	}
	rest := ""
	if len(a) > 1 {
		rest = a[1:]
	}
	return string(digits[lo]) + midpoint(rest, "")
}

func digitAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return digits[0]
}
