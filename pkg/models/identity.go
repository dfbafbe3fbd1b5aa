package models

import (
	"fmt"
	"strings"
)

// IdentityDelimiter joins the fingerprint strings of a NetworkIdentity.
// No fingerprint string may contain it.
const IdentityDelimiter = "+"

// NetworkIdentity is an ordered list of opaque fingerprint strings describing
// the physical network the host is attached to (interface name, hardware
// address, local IP, or a platform profile id).
type NetworkIdentity struct {
	parts []string
}

// NewNetworkIdentity builds an identity from fingerprint strings.
func NewNetworkIdentity(parts ...string) (NetworkIdentity, error) {
	if len(parts) == 0 || (len(parts) == 1 && parts[0] == "") {
		return NetworkIdentity{}, fmt.Errorf("network identity needs at least one fingerprint")
	}
	for _, p := range parts {
		if strings.Contains(p, IdentityDelimiter) {
			return NetworkIdentity{}, fmt.Errorf("identity string %q must not contain %q", p, IdentityDelimiter)
		}
	}
	cp := make([]string, len(parts))
	copy(cp, parts)
	return NetworkIdentity{parts: cp}, nil
}

// ParseNetworkIdentity reverses NetworkIdentity.String. An empty string
// yields the zero identity.
func ParseNetworkIdentity(serialized string) NetworkIdentity {
	if serialized == "" {
		return NetworkIdentity{}
	}
	return NetworkIdentity{parts: strings.Split(serialized, IdentityDelimiter)}
}

// Parts returns a copy of the fingerprint strings.
func (id NetworkIdentity) Parts() []string {
	cp := make([]string, len(id.parts))
	copy(cp, id.parts)
	return cp
}

// IsZero reports whether the identity was never computed.
func (id NetworkIdentity) IsZero() bool {
	return len(id.parts) == 0
}

// Equal compares every fingerprint string, in order.
func (id NetworkIdentity) Equal(other NetworkIdentity) bool {
	if len(id.parts) != len(other.parts) {
		return false
	}
	for i := range id.parts {
		if id.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}

// Key returns a comparable form suitable for map keys. Two identities have
// the same key exactly when they are Equal.
func (id NetworkIdentity) Key() string {
	return id.String()
}

func (id NetworkIdentity) String() string {
	return strings.Join(id.parts, IdentityDelimiter)
}
