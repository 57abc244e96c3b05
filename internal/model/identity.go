package model

import (
	"fmt"
	"strings"
	"unicode"
)

// Identity names a party that calls the ledger.
type Identity string

// ZeroAddress is treated the same as the empty identity.
const ZeroAddress Identity = "0x0000000000000000000000000000000000000000"

// IsZero reports whether id is the null identity.
func (id Identity) IsZero() bool {
	return id == "" || strings.EqualFold(string(id), string(ZeroAddress))
}

func (id Identity) String() string { return string(id) }

// ParseIdentity trims s and rejects null or whitespace-bearing identities.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	id := Identity(s)
	if id.IsZero() {
		return "", fmt.Errorf("%w: null identity", ErrInvalidArgument)
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: identity %q contains whitespace", ErrInvalidArgument, s)
	}
	return id, nil
}
