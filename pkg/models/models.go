package models

// NetworkProfile is a named logical network such as "home" or "work".
type NetworkProfile struct {
	Name string
}

func (p NetworkProfile) String() string {
	return p.Name
}

// DomainCategory is a named classification of destination domains.
type DomainCategory struct {
	Name string
}

func (c DomainCategory) String() string {
	return c.Name
}
