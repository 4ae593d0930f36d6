package state

import (
	"sync"
)

// Update is one streaming partial for a single domain.
type Update struct {
	Domain string
	Value  *Node
}

// Document is the in-memory vehicle state shared by the polling and streaming
// paths. Every mutation is one step under the write lock. Readers receive
// deep copies.
type Document struct {
	cfg MergeConfig

	mu      sync.RWMutex
	domains map[string]*Node
	version uint64
}

// NewDocument returns an empty document merging with cfg.
func NewDocument(cfg MergeConfig) *Document {
	return &Document{
		cfg:     cfg,
		domains: map[string]*Node{},
	}
}

// Merge applies streaming partials in order and returns the touched keys.
// Only the keys present in a partial are overwritten.
func (d *Document) Merge(updates ...Update) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var touched []string
	for _, u := range updates {
		merged, keys := mergeDomain(d.cfg, u.Domain, d.domains[u.Domain], u.Value)
		if merged == nil {
			continue
		}
		d.domains[u.Domain] = merged
		touched = append(touched, keys...)
	}
	if len(touched) > 0 {
		d.version++
	}
	return touched
}

// ReplaceAll installs a complete polling snapshot as the new document.
func (d *Document) ReplaceAll(domains map[string]*Node) {
	next := make(map[string]*Node, len(domains))
	for k, v := range domains {
		if v != nil {
			next[k] = v.Clone()
		}
	}

	d.mu.Lock()
	d.domains = next
	d.version++
	d.mu.Unlock()
}

// SetDomain replaces a single domain. A nil value removes it.
func (d *Document) SetDomain(domain string, value *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if value == nil {
		delete(d.domains, domain)
	} else {
		d.domains[domain] = value.Clone()
	}
	d.version++
}

// Domain returns a copy of a domain, or nil.
func (d *Document) Domain(domain string) *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.domains[domain].Clone()
}

// Lookup returns a copy of the value at domain followed by keys, or nil.
func (d *Document) Lookup(domain string, keys ...string) *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.domains[domain].Path(keys...).Clone()
}

// Len returns the number of members of a domain.
func (d *Document) Len(domain string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.domains[domain].Len()
}

// Snapshot returns a copy of the whole document as one object node.
func (d *Document) Snapshot() *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snap := Object()
	for k, v := range d.domains {
		snap.Set(k, v.Clone())
	}
	return snap
}

// Version increases with every mutation.
func (d *Document) Version() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version
}

// Empty reports whether the document has no domains.
func (d *Document) Empty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.domains) == 0
}

// Clear drops every domain.
func (d *Document) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.domains = map[string]*Node{}
	d.version++
}
