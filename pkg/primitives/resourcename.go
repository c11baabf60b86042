package primitives

import "strings"

// ResourceName is an ordered path from the database root down to a table
// or page, e.g. ["database", "t1", "3"]. Two resource names are equal iff
// their full paths are equal.
type ResourceName struct {
	names []string
}

// RootResourceName is the name of the database-level resource: the root
// of every LockContext tree.
var RootResourceName = NewResourceName("database")

// NewResourceName builds a resource name from its path components.
func NewResourceName(names ...string) ResourceName {
	cp := make([]string, len(names))
	copy(cp, names)
	return ResourceName{names: cp}
}

// Child returns the resource name for a child of this resource.
func (r ResourceName) Child(name string) ResourceName {
	cp := make([]string, len(r.names)+1)
	copy(cp, r.names)
	cp[len(r.names)] = name
	return ResourceName{names: cp}
}

// Parent returns the resource name of the immediate parent, and false if
// this is already the root.
func (r ResourceName) Parent() (ResourceName, bool) {
	if len(r.names) <= 1 {
		return ResourceName{}, false
	}
	return ResourceName{names: append([]string(nil), r.names[:len(r.names)-1]...)}, true
}

// IsRoot reports whether this resource name is the database root.
func (r ResourceName) IsRoot() bool {
	return len(r.names) <= 1
}

// Name returns the last path component, i.e. this resource's own name
// within its parent.
func (r ResourceName) Name() string {
	if len(r.names) == 0 {
		return ""
	}
	return r.names[len(r.names)-1]
}

// Depth returns the number of path components (root has depth 1).
func (r ResourceName) Depth() int {
	return len(r.names)
}

// Equals reports whether two resource names have identical full paths.
func (r ResourceName) Equals(other ResourceName) bool {
	if len(r.names) != len(other.names) {
		return false
	}
	for i := range r.names {
		if r.names[i] != other.names[i] {
			return false
		}
	}
	return true
}

// IsDescendantOf reports whether r names a resource strictly below
// ancestor in the tree.
func (r ResourceName) IsDescendantOf(ancestor ResourceName) bool {
	if len(r.names) <= len(ancestor.names) {
		return false
	}
	for i := range ancestor.names {
		if r.names[i] != ancestor.names[i] {
			return false
		}
	}
	return true
}

// String renders the resource name in slash-separated form, e.g.
// "database/t1/3".
func (r ResourceName) String() string {
	return strings.Join(r.names, "/")
}
