package merge

import (
	"strconv"
	"strings"
)

// scope resolves dotted paths against loop-local bindings first, then the
// root data tree. Missing leaves resolve to nil, never an error.
type scope struct {
	vars   map[string]any
	parent *scope
	root   map[string]any
}

func newScope(root map[string]any) *scope {
	return &scope{root: root}
}

func (s *scope) child(vars map[string]any) *scope {
	return &scope{vars: vars, parent: s, root: s.root}
}

func (s *scope) lookup(path string) any {
	segments := strings.Split(path, ".")
	head := segments[0]

	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[head]; ok {
			return walk(v, segments[1:])
		}
	}
	if v, ok := s.root[head]; ok {
		return walk(v, segments[1:])
	}
	return nil
}

// env flattens the root tree and every loop binding into one expression
// environment. Inner bindings shadow outer ones.
func (s *scope) env() map[string]any {
	out := make(map[string]any, len(s.root))
	for k, v := range s.root {
		out[k] = v
	}
	var chain []*scope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].vars {
			out[k] = v
		}
	}
	return out
}

func walk(v any, segments []string) any {
	for _, seg := range segments {
		switch node := v.(type) {
		case map[string]any:
			v = node[seg]
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil
			}
			v = node[idx]
		default:
			return nil
		}
	}
	return v
}
