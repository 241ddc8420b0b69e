package matcher

import (
	"fmt"
	"strings"
)

/////////////////////////////////////////////////////////////////////
/////// PARAM TYPES
/////////////////////////////////////////////////////////////////////

// ParamType constrains what a parameter segment accepts and what Go
// type its captured value is coerced to.
type ParamType uint8

const (
	ParamString ParamType = iota // any non-empty segment, captured as string
	ParamInt                     // optional '-' followed by digits, captured as int
	ParamSlug                    // [A-Za-z0-9_-]+, captured as string
	ParamPath                    // one or more remaining segments, captured as string
)

var paramTypeNames = map[string]ParamType{
	"string": ParamString,
	"int":    ParamInt,
	"slug":   ParamSlug,
	"path":   ParamPath,
}

func (t ParamType) String() string {
	switch t {
	case ParamInt:
		return "int"
	case ParamSlug:
		return "slug"
	case ParamPath:
		return "path"
	default:
		return "string"
	}
}

// Tried in this order when several typed params compete for one
// position. Narrower types go first.
var segmentParamOrder = [...]ParamType{ParamInt, ParamSlug, ParamString}

/////////////////////////////////////////////////////////////////////
/////// SEGMENTS & PATTERNS
/////////////////////////////////////////////////////////////////////

type Segment struct {
	Literal string
	Name    string
	Type    ParamType
	IsParam bool
}

func (s Segment) String() string {
	if !s.IsParam {
		return s.Literal
	}
	if s.Type == ParamString {
		return "{" + s.Name + "}"
	}
	return "{" + s.Name + ":" + s.Type.String() + "}"
}

// Pattern is a compiled route pattern. It is immutable once returned
// from Parse.
type Pattern struct {
	raw           string
	segments      []Segment
	trailingSlash bool
	paramCount    int
}

// InvalidPatternError is returned by Parse for malformed patterns.
type InvalidPatternError struct {
	Pattern string
	Reason  string
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid route pattern %q: %s", e.Pattern, e.Reason)
}

// Parse compiles a pattern such as "/users/{id:int}/files/{rest:path}".
// Literal segments match exact text. A parameter segment "{name}" or
// "{name:type}" must occupy the whole segment.
func Parse(pattern string) (*Pattern, error) {
	invalid := func(format string, args ...any) error {
		return &InvalidPatternError{Pattern: pattern, Reason: fmt.Sprintf(format, args...)}
	}

	if pattern == "" || pattern[0] != '/' {
		return nil, invalid("must start with '/'")
	}

	rawSegments := ParseSegments(pattern)
	p := &Pattern{
		raw:           pattern,
		segments:      make([]Segment, 0, len(rawSegments)),
		trailingSlash: len(rawSegments) > 0 && pattern[len(pattern)-1] == '/',
	}

	seen := make(map[string]struct{}, len(rawSegments))

	for i, raw := range rawSegments {
		seg, err := parseSegment(raw)
		if err != nil {
			return nil, invalid("segment %d (%q): %s", i+1, raw, err)
		}
		if seg.IsParam {
			if _, dup := seen[seg.Name]; dup {
				return nil, invalid("parameter %q is declared more than once", seg.Name)
			}
			seen[seg.Name] = struct{}{}
			if seg.Type == ParamPath && i != len(rawSegments)-1 {
				return nil, invalid("path parameter %q must be the last segment", seg.Name)
			}
			p.paramCount++
		}
		p.segments = append(p.segments, seg)
	}

	if p.endsInPathParam() {
		p.trailingSlash = false
	}

	return p, nil
}

// MustParse is like Parse but panics on error.
func MustParse(pattern string) *Pattern {
	p, err := Parse(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

func parseSegment(raw string) (Segment, error) {
	open := strings.IndexByte(raw, '{')
	closing := strings.IndexByte(raw, '}')

	if open == -1 && closing == -1 {
		return Segment{Literal: raw}, nil
	}
	if open != 0 || closing != len(raw)-1 || strings.Count(raw, "{") != 1 || strings.Count(raw, "}") != 1 {
		return Segment{}, fmt.Errorf("a parameter must occupy the entire segment")
	}

	inner := raw[1 : len(raw)-1]
	name, typeName, hasType := strings.Cut(inner, ":")
	if name == "" {
		return Segment{}, fmt.Errorf("parameter name is empty")
	}
	if !isValidParamName(name) {
		return Segment{}, fmt.Errorf("parameter name %q may only contain letters, digits and '_'", name)
	}

	t := ParamString
	if hasType {
		var ok bool
		if t, ok = paramTypeNames[typeName]; !ok {
			return Segment{}, fmt.Errorf("unknown parameter type %q", typeName)
		}
	}

	return Segment{Name: name, Type: t, IsParam: true}, nil
}

func isValidParamName(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func (p *Pattern) String() string { return p.raw }

func (p *Pattern) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

func (p *Pattern) HasTrailingSlash() bool { return p.trailingSlash }

func (p *Pattern) ParamNames() []string {
	names := make([]string, 0, p.paramCount)
	for _, seg := range p.segments {
		if seg.IsParam {
			names = append(names, seg.Name)
		}
	}
	return names
}

// Key is the normalized form used for conflict detection. Parameter
// names are erased, so "/users/{id}" and "/users/{uid}" share a key.
func (p *Pattern) Key(ignoreTrailingSlash bool) string {
	if len(p.segments) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, seg := range p.segments {
		sb.WriteByte('/')
		if seg.IsParam {
			sb.WriteString("{:")
			sb.WriteString(seg.Type.String())
			sb.WriteByte('}')
		} else {
			sb.WriteString(seg.Literal)
		}
	}
	if p.trailingSlash && !ignoreTrailingSlash {
		sb.WriteByte('/')
	}
	return sb.String()
}

func (p *Pattern) endsInPathParam() bool {
	n := len(p.segments)
	return n > 0 && p.segments[n-1].IsParam && p.segments[n-1].Type == ParamPath
}

// Join returns the pattern obtained by appending child to prefix, as
// used by route groups. Exactly one slash separates the two parts.
func Join(prefix, child string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if child == "" || child == "/" {
		if prefix == "" {
			return "/"
		}
		return prefix + "/"
	}
	if child[0] != '/' {
		child = "/" + child
	}
	return prefix + child
}
