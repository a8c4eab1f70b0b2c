package solver

import (
	"strconv"
	"strings"
	"unicode"
)

// Requirement is a parsed "name [op version]" expression.
type Requirement struct {
	Name    string
	Op      string
	Version string
}

var operators = []string{">=", "<=", "!=", "==", "=", ">", "<"}

// ParseRequirement parses s. Without an operator any version matches.
func ParseRequirement(s string) Requirement {
	s = strings.TrimSpace(s)
	for _, op := range operators {
		if i := strings.Index(s, op); i > 0 {
			return Requirement{
				Name:    strings.TrimSpace(s[:i]),
				Op:      op,
				Version: strings.TrimSpace(s[i+len(op):]),
			}
		}
	}
	return Requirement{Name: s}
}

// Matches reports whether a provided version satisfies r. An unversioned
// capability only satisfies unversioned requirements.
func (r Requirement) Matches(version string) bool {
	if r.Op == "" {
		return true
	}
	if version == "" {
		return false
	}
	c := CompareVersions(version, r.Version)
	switch r.Op {
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case "<":
		return c < 0
	case "!=":
		return c != 0
	default:
		return c == 0
	}
}

// CompareVersions compares dotted versions segment by segment. Numeric
// runs compare numerically, everything else lexically.
func CompareVersions(a, b string) int {
	as, bs := splitVersion(a), splitVersion(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		if c := compareSegment(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func splitVersion(v string) []string {
	var segs []string
	var cur strings.Builder
	digit := false
	flush := func() {
		if cur.Len() > 0 {
			segs = append(segs, cur.String())
			cur.Reset()
		}
	}
	for _, r := range v {
		switch {
		case r == '.' || r == '-' || r == '_' || r == '~':
			flush()
		case unicode.IsDigit(r) != digit && cur.Len() > 0:
			flush()
			digit = unicode.IsDigit(r)
			cur.WriteRune(r)
		default:
			digit = unicode.IsDigit(r)
			cur.WriteRune(r)
		}
	}
	flush()
	return segs
}

func compareSegment(x, y string) int {
	if x == y {
		return 0
	}
	if x == "" {
		return -1
	}
	if y == "" {
		return 1
	}
	xn, xerr := strconv.ParseUint(x, 10, 64)
	yn, yerr := strconv.ParseUint(y, 10, 64)
	switch {
	case xerr == nil && yerr == nil:
		if xn < yn {
			return -1
		}
		if xn > yn {
			return 1
		}
		return 0
	case xerr == nil:
		return 1
	case yerr == nil:
		return -1
	}
	return strings.Compare(x, y)
}
