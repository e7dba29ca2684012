package relay

import "github.com/pscheid92/keyrelay/internal/domain"

// Directory maps (namespace, key) to groups and remembers which groups each
// connection has joined, so a disconnect does not scan every group.
type Directory struct {
	groups      map[domain.Namespace]map[string]*Group
	memberships map[string]map[domain.GroupRef]struct{}
}

// NewDirectory creates an empty directory with both namespaces initialised.
func NewDirectory() *Directory {
	d := &Directory{
		groups:      make(map[domain.Namespace]map[string]*Group, len(domain.Namespaces)),
		memberships: make(map[string]map[domain.GroupRef]struct{}),
	}
	for _, ns := range domain.Namespaces {
		d.groups[ns] = make(map[string]*Group)
	}
	return d
}

// GetOrCreate returns the group for (ns, key), creating it on first reference.
// Repeated calls return the same instance.
func (d *Directory) GetOrCreate(ns domain.Namespace, key string) *Group {
	groups := d.namespace(ns)
	if g, exists := groups[key]; exists {
		return g
	}
	g := newGroup(domain.GroupRef{Namespace: ns, Key: key})
	groups[key] = g
	return g
}

// Lookup returns the group for ref without creating it.
func (d *Directory) Lookup(ref domain.GroupRef) (*Group, bool) {
	g, ok := d.groups[ref.Namespace][ref.Key]
	return g, ok
}

// Each calls fn for every group in ns.
func (d *Directory) Each(ns domain.Namespace, fn func(*Group)) {
	for _, g := range d.groups[ns] {
		fn(g)
	}
}

// Len returns the number of groups in ns.
func (d *Directory) Len(ns domain.Namespace) int {
	return len(d.groups[ns])
}

// Evict removes the group for ref. Reports whether it existed.
func (d *Directory) Evict(ref domain.GroupRef) bool {
	groups := d.groups[ref.Namespace]
	if _, exists := groups[ref.Key]; !exists {
		return false
	}
	delete(groups, ref.Key)
	return true
}

func (d *Directory) namespace(ns domain.Namespace) map[string]*Group {
	groups, ok := d.groups[ns]
	if !ok {
		groups = make(map[string]*Group)
		d.groups[ns] = groups
	}
	return groups
}

func (d *Directory) track(connID string, ref domain.GroupRef) {
	refs, ok := d.memberships[connID]
	if !ok {
		refs = make(map[domain.GroupRef]struct{})
		d.memberships[connID] = refs
	}
	refs[ref] = struct{}{}
}

func (d *Directory) memberOf(connID string) []domain.GroupRef {
	refs := make([]domain.GroupRef, 0, len(d.memberships[connID]))
	for ref := range d.memberships[connID] {
		refs = append(refs, ref)
	}
	return refs
}

func (d *Directory) forget(connID string) {
	delete(d.memberships, connID)
}
