// Package normalize contains functions to normalize usernames and addresses.
package normalize

import (
	"blitiri.com.ar/go/smtpproto/internal/envelope"
	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
)

// User normalices an username using PRECIS.
// On error, it will also return the original username to simplify callers.
func User(user string) (string, error) {
	norm, err := precis.UsernameCaseMapped.String(user)
	if err != nil {
		return user, err
	}

	return norm, nil
}

// Addr normalizes an email address using PRECIS.
// On error, it will also return the original address to simplify callers.
func Addr(addr string) (string, error) {
	user, domain := envelope.Split(addr)

	user, err := User(user)
	if err != nil {
		return addr, err
	}

	return user + "@" + domain, nil
}

// Domain normalizes a domain name to its ASCII-compatible (IDNA) encoding.
func Domain(domain string) (string, error) {
	return idna.ToASCII(domain)
}

// DomainToUnicode converts the domain part of addr from its wire (possibly
// IDNA ASCII-compatible) encoding to Unicode, for display and for
// comparisons against values entered in Unicode, and returns the whole
// address. Addresses with no domain part pass through unchanged.
func DomainToUnicode(addr string) (string, error) {
	user, domain := envelope.Split(addr)
	if domain == "" {
		return addr, nil
	}

	u, err := idna.ToUnicode(domain)
	if err != nil {
		return addr, err
	}

	return user + "@" + u, nil
}
