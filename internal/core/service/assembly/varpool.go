package assembly

// variablePool is the shared id pool threaded through composite slot
// execution. It is seeded with the caller-supplied record ids and grows as
// slots return data carrying well-known foreign keys. First write wins so a
// later slot never silently redirects an earlier binding.
type variablePool struct {
	vars      map[string]string
	wellKnown []string
}

func newVariablePool(seed map[string]string, wellKnown []string) *variablePool {
	vars := make(map[string]string, len(seed))
	for k, v := range seed {
		if v != "" {
			vars[k] = v
		}
	}
	return &variablePool{vars: vars, wellKnown: wellKnown}
}

func (p *variablePool) get(key string) (string, bool) {
	v, ok := p.vars[key]
	return v, ok
}

func (p *variablePool) set(key, value string) {
	if value == "" {
		return
	}
	if _, taken := p.vars[key]; !taken {
		p.vars[key] = value
	}
}

// harvest walks a returned data tree and pulls out every well-known foreign
// key it has not seen yet. Arrays are descended so child rows contribute too.
func (p *variablePool) harvest(tree map[string]any) {
	for _, key := range p.wellKnown {
		if v, ok := tree[key].(string); ok {
			p.set(key, v)
		}
	}
	for _, v := range tree {
		switch node := v.(type) {
		case map[string]any:
			p.harvest(node)
		case []any:
			for _, item := range node {
				if obj, ok := item.(map[string]any); ok {
					p.harvest(obj)
				}
			}
		}
	}
}

// snapshot copies the current bindings.
func (p *variablePool) snapshot() map[string]string {
	out := make(map[string]string, len(p.vars))
	for k, v := range p.vars {
		out[k] = v
	}
	return out
}
