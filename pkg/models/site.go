package models

import "strings"

// Site is a destination domain name.
type Site string

// NewSite normalizes a host name into a Site: lower case, no trailing dot.
func NewSite(domain string) Site {
	return Site(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), "."))
}

func (s Site) String() string {
	return string(s)
}
