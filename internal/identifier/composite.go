package identifier

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNotComposite is returned by Parse when the string does not follow the
// composite identifier grammar.
var ErrNotComposite = errors.New("identifier is not composite")

var (
	segmentNamePattern = regexp.MustCompile(`^(\w+)=`)
	nextSegmentPattern = regexp.MustCompile(`;\w+=`)
)

// Parse decomposes "name=value;name2=value2" into ordered raw values.
//
// A value ends at the first ";" followed by "name=". The last value may not
// contain ";" apart from one trailing separator. Values are not escaped, so
// values holding ";" or "=" do not round trip.
func Parse(raw string) (*Values, error) {
	values := NewValues()
	rest := raw
	for {
		m := segmentNamePattern.FindStringSubmatch(rest)
		if m == nil {
			return nil, ErrNotComposite
		}
		name := m[1]
		rest = rest[len(m[0]):]

		if loc := nextSegmentPattern.FindStringIndex(rest); loc != nil {
			values.Set(name, rest[:loc[0]])
			rest = rest[loc[0]+1:]
			continue
		}

		value := strings.TrimSuffix(rest, ";")
		if strings.Contains(value, ";") {
			return nil, ErrNotComposite
		}
		values.Set(name, value)
		return values, nil
	}
}

// Stringify renders values as "name=value;name2=value2" in order.
func Stringify(values *Values) string {
	return values.String()
}
