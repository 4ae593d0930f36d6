package topic

import (
	"strings"
)

// Wildcard is the MQTT single-level wildcard.
const Wildcard = "+"

// Builder joins a root namespace, a segment and an identifier into a topic.
type Builder struct {
	// root is the base namespace for all topics (e.g. "fordpass/v1").
	root string
}

// NewBuilder creates a Builder rooted at root. Leading and trailing slashes are dropped.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Root returns the namespace the builder was created with.
func (b *Builder) Root() string {
	return b.root
}

// Build returns {root}/{segment}/{id}.
func (b *Builder) Build(segment, id string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{b.root, strings.Trim(segment, "/"), id} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "/")
}

// Wildcard returns the single-level filter {root}/{segment}/+.
func (b *Builder) Wildcard(segment string) string {
	return b.Build(segment, Wildcard)
}

// Match reports whether topic is covered by filter. Both + and a trailing #
// are honoured.
func Match(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	levels := strings.Split(topic, "/")
	for i, part := range strings.Split(filter, "/") {
		switch {
		case part == "#":
			return true
		case i >= len(levels):
			return false
		case part != Wildcard && part != levels[i]:
			return false
		}
	}
	return strings.Count(filter, "/") == len(levels)-1
}
