package matcher

// FindBestMatch resolves an escaped request path against the trie.
//
// Candidates are explored depth-first, segment by segment: a literal
// child first, then typed params (int, slug, string), then a path
// param. The first complete match in that order wins, which makes the
// result independent of registration order and gives the longest
// literal prefix priority on ties.
func (m *Matcher) FindBestMatch(escapedPath string) (*Match, bool) {
	rp, ok := splitRequestPath(escapedPath)
	if !ok {
		return nil, false
	}
	p := m.dfsBest(m.root, rp, 0)
	if p == nil {
		return nil, false
	}
	return &Match{Pattern: p, Params: extractParams(p, rp)}, true
}

func (m *Matcher) dfsBest(node *segmentNode, rp requestPath, depth int) *Pattern {
	if depth == len(rp.segments) {
		return node.terminal(rp.trailingSlash, m.opts.IgnoreTrailingSlash)
	}

	seg := rp.segments[depth]

	if child, ok := node.literals[seg]; ok {
		if p := m.dfsBest(child, rp, depth+1); p != nil {
			return p
		}
	}

	for i, t := range segmentParamOrder {
		child := node.params[i]
		if child == nil || !accepts(t, seg) {
			continue
		}
		if p := m.dfsBest(child, rp, depth+1); p != nil {
			return p
		}
	}

	// Path params are greedy and consume everything that is left.
	return node.pathParam
}

// FindCoercionFailure reports why a path that found no match would
// have matched if parameter types were ignored. It returns nil when
// no pattern has the path's shape. Call it only after FindBestMatch
// has failed.
func (m *Matcher) FindCoercionFailure(escapedPath string) *CoercionError {
	rp, ok := splitRequestPath(escapedPath)
	if !ok {
		return nil
	}
	return m.dfsLoose(m.root, rp, 0, nil)
}

type looseMiss struct {
	depth int
	typ   ParamType
	value string
}

func (m *Matcher) dfsLoose(node *segmentNode, rp requestPath, depth int, miss *looseMiss) *CoercionError {
	if depth == len(rp.segments) {
		p := node.terminal(rp.trailingSlash, m.opts.IgnoreTrailingSlash)
		if p == nil || miss == nil {
			return nil
		}
		return &CoercionError{
			Pattern: p.raw,
			Param:   p.segments[miss.depth].Name,
			Type:    miss.typ,
			Value:   miss.value,
		}
	}

	seg := rp.segments[depth]

	if child, ok := node.literals[seg]; ok {
		if err := m.dfsLoose(child, rp, depth+1, miss); err != nil {
			return err
		}
	}

	for i, t := range segmentParamOrder {
		child := node.params[i]
		if child == nil {
			continue
		}
		nextMiss := miss
		if nextMiss == nil && !accepts(t, seg) {
			nextMiss = &looseMiss{depth: depth, typ: t, value: seg}
		}
		if err := m.dfsLoose(child, rp, depth+1, nextMiss); err != nil {
			return err
		}
	}

	return nil
}
