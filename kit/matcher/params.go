package matcher

import (
	"sort"
	"strconv"
)

// Params maps parameter names to their coerced values. Values are
// int for ParamInt and string for every other type.
type Params map[string]any

func (p Params) Get(name string) (any, bool) {
	v, ok := p[name]
	return v, ok
}

// String returns the parameter formatted as a string, or "" if absent.
func (p Params) String(name string) string {
	switch v := p[name].(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func (p Params) Int(name string) (int, bool) {
	v, ok := p[name].(int)
	return v, ok
}

func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

/////////////////////////////////////////////////////////////////////
/////// COERCION
/////////////////////////////////////////////////////////////////////

// CoercionError reports a path that matched a pattern's shape but
// failed one of its parameter type constraints.
type CoercionError struct {
	Pattern string
	Param   string
	Type    ParamType
	Value   string
}

func (e *CoercionError) Error() string {
	return "parameter " + strconv.Quote(e.Param) + " expects " + e.Type.String() +
		", got " + strconv.Quote(e.Value)
}

func accepts(t ParamType, seg string) bool {
	if seg == "" {
		return false
	}
	switch t {
	case ParamInt:
		_, ok := parseIntSegment(seg)
		return ok
	case ParamSlug:
		for i := 0; i < len(seg); i++ {
			c := seg[i]
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func parseIntSegment(seg string) (int, bool) {
	digits := seg
	if len(digits) > 0 && digits[0] == '-' {
		digits = digits[1:]
	}
	if digits == "" {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}

func coerce(t ParamType, seg string) any {
	if t == ParamInt {
		n, _ := parseIntSegment(seg)
		return n
	}
	return seg
}
