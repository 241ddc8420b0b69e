package matcher

import (
	"errors"
	"sort"
	"strings"
)

// ErrDuplicatePattern is returned by Register when a pattern with the
// same normalized key is already present.
var ErrDuplicatePattern = errors.New("duplicate pattern")

type Options struct {
	// When true, "/info" and "/info/" are the same pattern and either
	// form of a request path matches it.
	IgnoreTrailingSlash bool
}

// Matcher is a segment trie over registered patterns. Registration is
// not safe for concurrent use; matching is, once registration is over.
type Matcher struct {
	opts     Options
	root     *segmentNode
	patterns map[string]*Pattern
}

type Match struct {
	Pattern *Pattern
	Params  Params
}

type segmentNode struct {
	literals   map[string]*segmentNode
	params     [len(segmentParamOrder)]*segmentNode
	pathParam  *Pattern
	exact      *Pattern // terminal pattern without trailing slash
	exactSlash *Pattern // terminal pattern with trailing slash
}

func New(opts *Options) *Matcher {
	m := &Matcher{root: new(segmentNode), patterns: make(map[string]*Pattern)}
	if opts != nil {
		m.opts = *opts
	}
	return m
}

// Register adds p to the trie. Two patterns with the same Key
// conflict, regardless of parameter names.
func (m *Matcher) Register(p *Pattern) error {
	key := p.Key(m.opts.IgnoreTrailingSlash)
	if _, exists := m.patterns[key]; exists {
		return ErrDuplicatePattern
	}
	m.patterns[key] = p

	current := m.root
	for _, seg := range p.segments {
		switch {
		case !seg.IsParam:
			if current.literals == nil {
				current.literals = make(map[string]*segmentNode)
			}
			child, ok := current.literals[seg.Literal]
			if !ok {
				child = new(segmentNode)
				current.literals[seg.Literal] = child
			}
			current = child
		case seg.Type == ParamPath:
			current.pathParam = p
			return nil
		default:
			idx := paramSlot(seg.Type)
			if current.params[idx] == nil {
				current.params[idx] = new(segmentNode)
			}
			current = current.params[idx]
		}
	}

	if p.trailingSlash {
		current.exactSlash = p
	} else {
		current.exact = p
	}
	return nil
}

// Lookup returns the registered pattern sharing p's key, if any.
func (m *Matcher) Lookup(p *Pattern) (*Pattern, bool) {
	existing, ok := m.patterns[p.Key(m.opts.IgnoreTrailingSlash)]
	return existing, ok
}

// Patterns returns every registered pattern, sorted by raw text.
func (m *Matcher) Patterns() []*Pattern {
	out := make([]*Pattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].raw < out[j].raw })
	return out
}

func (m *Matcher) Len() int { return len(m.patterns) }

func paramSlot(t ParamType) int {
	for i, candidate := range segmentParamOrder {
		if candidate == t {
			return i
		}
	}
	panic("matcher: no slot for param type " + t.String())
}

func (n *segmentNode) terminal(trailingSlash, ignoreTrailingSlash bool) *Pattern {
	if ignoreTrailingSlash {
		if n.exact != nil {
			return n.exact
		}
		return n.exactSlash
	}
	if trailingSlash {
		return n.exactSlash
	}
	return n.exact
}

/////////////////////////////////////////////////////////////////////
/////// PARAM EXTRACTION
/////////////////////////////////////////////////////////////////////

func extractParams(p *Pattern, rp requestPath) Params {
	if p.paramCount == 0 {
		return Params{}
	}
	params := make(Params, p.paramCount)
	for i, seg := range p.segments {
		if !seg.IsParam {
			continue
		}
		if seg.Type == ParamPath {
			rest := strings.Join(rp.segments[i:], "/")
			if rp.trailingSlash {
				rest += "/"
			}
			params[seg.Name] = rest
			break
		}
		params[seg.Name] = coerce(seg.Type, rp.segments[i])
	}
	return params
}
