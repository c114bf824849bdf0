// ABOUTME: Named middleware registry with aliases, groups, and a priority list
// ABOUTME: Expands and sorts middleware names before resolving them to instances

package middleware

import (
	"fmt"
	"strings"
)

// Source resolves middleware names the registry does not know about.
type Source interface {
	Middleware(name string) (Middleware, bool)
}

// Registry maps middleware names to instances. It is built during
// bootstrap and read-only afterwards, so it carries no lock.
type Registry struct {
	aliases  map[string]Middleware
	groups   map[string][]string
	priority []string
	fallback Source
}

// NewRegistry creates an empty registry. fallback may be nil.
func NewRegistry(fallback Source) *Registry {
	return &Registry{
		aliases:  make(map[string]Middleware),
		groups:   make(map[string][]string),
		fallback: fallback,
	}
}

// Alias registers m under name.
func (r *Registry) Alias(name string, m Middleware) *Registry {
	r.aliases[name] = m
	return r
}

// Group defines (or replaces) a named list of middleware.
func (r *Registry) Group(name string, names ...string) *Registry {
	r.groups[name] = append([]string(nil), names...)
	return r
}

// PrependToGroup adds name to the front of group unless already present.
func (r *Registry) PrependToGroup(group, name string) *Registry {
	if !contains(r.groups[group], name) {
		r.groups[group] = append([]string{name}, r.groups[group]...)
	}
	return r
}

// PushToGroup adds name to the end of group unless already present.
func (r *Registry) PushToGroup(group, name string) *Registry {
	if !contains(r.groups[group], name) {
		r.groups[group] = append(r.groups[group], name)
	}
	return r
}

// HasGroup reports whether group is defined.
func (r *Registry) HasGroup(name string) bool {
	_, ok := r.groups[name]
	return ok
}

// Groups returns a copy of the group definitions.
func (r *Registry) Groups() map[string][]string {
	out := make(map[string][]string, len(r.groups))
	for k, v := range r.groups {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// SetPriority replaces the priority list.
func (r *Registry) SetPriority(names ...string) *Registry {
	r.priority = append([]string(nil), names...)
	return r
}

// Priority returns the priority list.
func (r *Registry) Priority() []string {
	return append([]string(nil), r.priority...)
}

// Expand replaces group names with their members, recursively, and drops
// duplicate names keeping the first occurrence.
func (r *Registry) Expand(names []string) []string {
	var out []string
	seen := make(map[string]bool)
	r.expand(names, seen, make(map[string]bool), &out)
	return out
}

func (r *Registry) expand(names []string, seen, visiting map[string]bool, out *[]string) {
	for _, name := range names {
		if members, ok := r.groups[name]; ok {
			if visiting[name] {
				continue
			}
			visiting[name] = true
			r.expand(members, seen, visiting, out)
			visiting[name] = false
			continue
		}
		if !seen[name] {
			seen[name] = true
			*out = append(*out, name)
		}
	}
}

// Sort orders names by the priority list. Listed middleware keep the
// relative order of the priority list; unlisted middleware keep their
// declaration order. A listed entry found after a lower-priority listed
// entry is moved in front of it, and the scan restarts.
func (r *Registry) Sort(names []string) []string {
	out := append([]string(nil), names...)
	for {
		moved := false
		lastIndex, lastPriority := 0, -1
		for i, name := range out {
			p, ok := r.priorityIndex(name)
			if !ok {
				continue
			}
			if lastPriority >= 0 && p < lastPriority {
				item := out[i]
				copy(out[lastIndex+1:i+1], out[lastIndex:i])
				out[lastIndex] = item
				moved = true
				break
			}
			lastIndex, lastPriority = i, p
		}
		if !moved {
			return unique(out)
		}
	}
}

func (r *Registry) priorityIndex(name string) (int, bool) {
	base, _ := ParseName(name)
	for i, p := range r.priority {
		if p == base {
			return i, true
		}
	}
	return 0, false
}

// Resolve expands, sorts, and instantiates names.
func (r *Registry) Resolve(names []string) ([]Middleware, error) {
	sorted := r.Sort(r.Expand(names))
	resolved := make([]Middleware, 0, len(sorted))
	for _, name := range sorted {
		m, err := r.resolveOne(name)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, m)
	}
	return resolved, nil
}

func (r *Registry) resolveOne(name string) (Middleware, error) {
	base, args := ParseName(name)
	m, ok := r.aliases[base]
	if !ok && r.fallback != nil {
		m, ok = r.fallback.Middleware(base)
	}
	if !ok || m == nil {
		return nil, fmt.Errorf("middleware %q is not registered", base)
	}
	if len(args) == 0 {
		return m, nil
	}
	p, ok := m.(Parameterized)
	if !ok {
		return nil, fmt.Errorf("middleware %q does not accept parameters", base)
	}
	return p.WithParameters(args), nil
}

// ParseName splits "name:arg1,arg2" into its name and arguments.
func ParseName(name string) (string, []string) {
	base, rawArgs, found := strings.Cut(name, ":")
	if !found || rawArgs == "" {
		return base, nil
	}
	return base, strings.Split(rawArgs, ",")
}

func unique(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}
