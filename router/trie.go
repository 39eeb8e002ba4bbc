package router

import (
	"sort"
	"strings"
	"sync"

	"github.com/Jennifer-Brigman/stormhttp/errors"
)

type node struct {
	children     map[string]*node
	wildcard     *node
	wildcardName string
	handlers     map[string]Handler // nil until a route ends here
}

// Trie maps path segments plus a method to a handler. A segment written as
// <name> or {name} matches any single segment and captures it under name.
// Routes may be added while lookups run.
type Trie struct {
	mu   sync.RWMutex
	root node
}

// wildcardName returns the parameter name of a <name> or {name} segment.
func wildcardName(segment string) (string, bool) {
	if len(segment) < 3 {
		return "", false
	}
	first, last := segment[0], segment[len(segment)-1]
	if !(first == '<' && last == '>') && !(first == '{' && last == '}') {
		return "", false
	}
	name := segment[1 : len(segment)-1]
	for i := 0; i < len(name); i++ {
		c := name[i]
		letter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !letter && (i == 0 || c < '0' || c > '9') {
			return "", false
		}
	}
	return name, true
}

// segments splits a path on '/', dropping empty segments.
func segments(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

// Add registers handler for method at path. Registering the same path and
// method twice, or two differently named wildcards at one depth, fails with
// a duplicate route error.
func (t *Trie) Add(path string, method string, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := &t.root
	for _, seg := range segments(path) {
		if name, ok := wildcardName(seg); ok {
			if n.wildcard == nil {
				n.wildcard, n.wildcardName = &node{}, name
			} else if n.wildcardName != name {
				return errors.NewArgumentError(errors.ArgumentErrorDuplicateRoute,
					"wildcard <"+name+"> conflicts with <"+n.wildcardName+"> in "+path)
			}
			n = n.wildcard
			continue
		}
		child, ok := n.children[seg]
		if !ok {
			if n.children == nil {
				n.children = make(map[string]*node)
			}
			child = &node{}
			n.children[seg] = child
		}
		n = child
	}

	if _, ok := n.handlers[method]; ok {
		return errors.NewArgumentError(errors.ArgumentErrorDuplicateRoute, method+" "+path)
	}
	if n.handlers == nil {
		n.handlers = make(map[string]Handler)
	}
	n.handlers[method] = handler
	return nil
}

// Match is the result of a successful lookup.
type Match struct {
	Handlers map[string]Handler
	Params   map[string]string
}

// Methods returns the registered methods, sorted.
func (m Match) Methods() []string {
	methods := make([]string, 0, len(m.Handlers))
	for method := range m.Handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

// Lookup walks path through the trie. At each depth a literal child wins
// over the wildcard; there is no backtracking. ok is false when the walk
// falls off the trie or ends on a node without routes.
func (t *Trie) Lookup(path string) (m Match, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := &t.root
	for _, seg := range segments(path) {
		if child, found := n.children[seg]; found {
			n = child
			continue
		}
		if n.wildcard == nil {
			return Match{}, false
		}
		if m.Params == nil {
			m.Params = make(map[string]string)
		}
		m.Params[n.wildcardName] = seg
		n = n.wildcard
	}
	if n.handlers == nil {
		return Match{}, false
	}
	m.Handlers = make(map[string]Handler, len(n.handlers))
	for method, h := range n.handlers {
		m.Handlers[method] = h
	}
	return m, true
}
