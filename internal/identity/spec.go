package identity

import (
	"strconv"
	"strings"
)

// Spec is an unresolved user or group reference.
type Spec struct {
	name    string
	id      int
	numeric bool
}

// ParseSpec treats an all-digit value as a numeric id and anything else as a
// name. Surrounding whitespace is ignored; an empty value yields an unset Spec.
func ParseSpec(value string) Spec {
	value = strings.TrimSpace(value)
	if value == "" {
		return Spec{}
	}
	if allDigits(value) {
		if id, err := strconv.Atoi(value); err == nil {
			return Spec{id: id, numeric: true}
		}
	}
	return Spec{name: value}
}

// ID returns a numeric Spec.
func ID(id int) Spec {
	return Spec{id: id, numeric: true}
}

// Name returns a symbolic Spec.
func Name(name string) Spec {
	return Spec{name: strings.TrimSpace(name)}
}

func (s Spec) IsSet() bool {
	return s.numeric || s.name != ""
}

func (s Spec) Numeric() (int, bool) {
	return s.id, s.numeric
}

func (s Spec) String() string {
	if s.numeric {
		return strconv.Itoa(s.id)
	}
	return s.name
}

func allDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}
