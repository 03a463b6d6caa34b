// Package keys is the single place storage key formats are defined.
package keys

import "github.com/bryan-buckman/newsdex/internal/model"

// DefaultPrefix keeps the layout compatible with existing deployments.
const DefaultPrefix = "news"

// Schema builds every key the engine reads or writes.
type Schema struct {
	prefix string
}

// New returns a Schema rooted at prefix, or DefaultPrefix when empty.
func New(prefix string) Schema {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Schema{prefix: prefix}
}

// Prefix returns the namespace all keys live under.
func (s Schema) Prefix() string {
	if s.prefix == "" {
		return DefaultPrefix
	}
	return s.prefix
}

// Timeline is the global ordered set of record ids scored by publish time.
func (s Schema) Timeline() string { return s.Prefix() + ":timeline" }

// Category is the ordered set for one category.
func (s Schema) Category(name string) string { return s.Prefix() + ":category:" + name }

// Categories is the category registry set.
func (s Schema) Categories() string { return s.Prefix() + ":categories" }

// Projection is the field map holding a record's list fields.
func (s Schema) Projection(id model.ID) string { return s.Prefix() + ":list:" + string(id) }

// Detail is the string key holding a record's serialized payload.
func (s Schema) Detail(id model.ID) string { return s.Prefix() + ":detail:" + string(id) }

// TimelineFor returns the global timeline when category is empty, else the
// category's timeline.
func (s Schema) TimelineFor(category string) string {
	if category == "" {
		return s.Timeline()
	}
	return s.Category(category)
}

// RecordKeys returns both storage keys of a record.
func (s Schema) RecordKeys(id model.ID) []string {
	return []string{s.Projection(id), s.Detail(id)}
}
