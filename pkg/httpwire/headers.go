package httpwire

import "strings"

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Headers is an ordered, multi-valued header collection. Names keep the case
// they were received with. The zero value is empty and ready to use; every
// modifier returns a new collection.
type Headers struct {
	fields []Field
}

// NewHeaders builds a collection from fields in order.
func NewHeaders(fields ...Field) Headers {
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return Headers{fields: cp}
}

// Len counts header lines, including repeated names.
func (h Headers) Len() int {
	return len(h.fields)
}

// Fields returns a copy of the header lines in order.
func (h Headers) Fields() []Field {
	cp := make([]Field, len(h.fields))
	copy(cp, h.fields)
	return cp
}

// Values returns every value stored under exactly name, in insertion order.
func (h Headers) Values(name string) []string {
	var values []string
	for _, f := range h.fields {
		if f.Name == name {
			values = append(values, f.Value)
		}
	}
	return values
}

// Single returns the value of name when it occurs exactly once.
func (h Headers) Single(name string) (string, bool) {
	values := h.Values(name)
	if len(values) != 1 {
		return "", false
	}
	return values[0], true
}

// Lookup returns the first value whose name matches case-insensitively.
func (h Headers) Lookup(name string) (string, bool) {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// With returns a copy with name: value appended.
func (h Headers) With(name, value string) Headers {
	fields := make([]Field, len(h.fields), len(h.fields)+1)
	copy(fields, h.fields)
	return Headers{fields: append(fields, Field{Name: name, Value: value})}
}

// Without returns a copy with every line named like one of names removed,
// compared case-insensitively.
func (h Headers) Without(names ...string) Headers {
	fields := make([]Field, 0, len(h.fields))
outer:
	for _, f := range h.fields {
		for _, n := range names {
			if strings.EqualFold(f.Name, n) {
				continue outer
			}
		}
		fields = append(fields, f)
	}
	return Headers{fields: fields}
}

// parseHeaders reads "Name: value" lines. Lines without a colon or with an
// empty name are skipped.
func parseHeaders(lines []string) Headers {
	fields := make([]Field, 0, len(lines))
	for _, line := range lines {
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			continue
		}
		name := line[:idx]
		if strings.TrimSpace(name) != name {
			continue
		}
		fields = append(fields, Field{Name: name, Value: strings.Trim(line[idx+1:], " \t")})
	}
	return Headers{fields: fields}
}
