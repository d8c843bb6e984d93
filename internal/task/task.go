// Package task implements the Task Store (C3): the Markdown+front-matter
// task model, its tolerant parser/canonical writer, and the mutation
// operations that each append an Audit Event.
package task

import (
	"sort"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Status string constants for the conventional values. Status is
// a free string; user-defined terminal variants are tolerated as-is.
const (
	StatusToDo       = "To Do"
	StatusInProgress = "In Progress"
	StatusDone       = "Done"
)

// EpicKind is the literal "kind" string that triggers epic-completion
// gating. Other kinds have no special semantics.
const EpicKind = "epic"

// IsTerminal reports whether status is a terminal status: anything
// other than To Do or In Progress, including Done and any
// user-defined terminal variant.
func IsTerminal(status string) bool {
	return status != StatusToDo && status != StatusInProgress
}

// Relationships groups the four edge lists besides `dependencies`
type Relationships struct {
	BlockedBy      []string `json:"blocked_by,omitempty" yaml:"blocked_by,omitempty"`
	Parent         []string `json:"parent,omitempty" yaml:"parent,omitempty"`
	Child          []string `json:"child,omitempty" yaml:"child,omitempty"`
	DiscoveredFrom []string `json:"discovered_from,omitempty" yaml:"discovered_from,omitempty"`
}

// Lease is an owner-tagged, time-bounded claim.
type Lease struct {
	Owner      string    `json:"owner" yaml:"owner"`
	AcquiredAt time.Time `json:"acquired_at" yaml:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at" yaml:"expires_at"`
}

// Active reports whether the lease has not yet expired as of now.
func (l *Lease) Active(now time.Time) bool {
	return l != nil && now.Before(l.ExpiresAt)
}

// Comment is an append-only note attached to a task.
type Comment struct {
	Author    string    `json:"author" yaml:"author"`
	Body      string    `json:"body" yaml:"body"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Task is a unit of work persisted as one Markdown file.
type Task struct {
	UID  string `json:"uid" yaml:"uid"`
	ID   string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
	Kind  string `json:"kind" yaml:"kind"`
	Status string `json:"status" yaml:"status"`
	Priority string `json:"priority,omitempty" yaml:"priority,omitempty"`
	Phase    string `json:"phase,omitempty" yaml:"phase,omitempty"`

	Labels   map[string]bool `json:"labels,omitempty" yaml:"-"`
	Assignee map[string]bool `json:"assignee,omitempty" yaml:"-"`

	Dependencies  []string      `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Relationships Relationships `json:"relationships,omitempty" yaml:"relationships,omitempty"`

	Project    string            `json:"project,omitempty" yaml:"project,omitempty"`
	Initiative string            `json:"initiative,omitempty" yaml:"initiative,omitempty"`
	External   map[string]string `json:"external,omitempty" yaml:"external,omitempty"`

	Lease *Lease `json:"lease,omitempty" yaml:"lease,omitempty"`

	CreatedDate time.Time `json:"created_date" yaml:"created_date"`
	UpdatedDate time.Time `json:"updated_date" yaml:"updated_date"`

	PRD string `json:"prd,omitempty" yaml:"prd,omitempty"`

	// Body sections, canonical ones addressed by name; Comments is
	// rendered from Comments field, not free text, once any exist.
	Sections *orderedmap.OrderedMap[string, string] `json:"-" yaml:"-"`
	Comments []Comment                              `json:"comments,omitempty" yaml:"-"`

	// Unknown preserves front-matter keys this version of the store
	// doesn't recognize, in file order, for lossless round-trip.
	Unknown *orderedmap.OrderedMap[string, any] `json:"-" yaml:"-"`

	// Path is the absolute filesystem path this task was loaded from,
	// or the path it will be written to. Not persisted in the file.
	Path string `json:"-" yaml:"-"`
}

// LabelSlice returns Labels as a sorted slice for deterministic output.
func (t *Task) LabelSlice() []string { return sortedSet(t.Labels) }

// AssigneeSlice returns Assignee as a sorted slice for deterministic output.
func (t *Task) AssigneeSlice() []string { return sortedSet(t.Assignee) }

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// HasDependencyOrBlocker reports whether id appears in Dependencies or
// Relationships.BlockedBy.
func (t *Task) HasDependencyOrBlocker(id string) bool {
	for _, d := range t.Dependencies {
		if d == id {
			return true
		}
	}
	for _, d := range t.Relationships.BlockedBy {
		if d == id {
			return true
		}
	}
	return false
}

// AllBlockingRefs returns every id that must be Done before t is
// considered unblocked: dependencies plus blocked_by.
func (t *Task) AllBlockingRefs() []string {
	out := make([]string, 0, len(t.Dependencies)+len(t.Relationships.BlockedBy))
	out = append(out, t.Dependencies...)
	out = append(out, t.Relationships.BlockedBy...)
	return out
}

// Clone returns a deep-enough copy for callers that need to mutate a
// task without affecting the in-memory original (e.g. building a diff
// for the Audit Log before applying changes).
func (t *Task) Clone() *Task {
	c := *t
	c.Labels = cloneSet(t.Labels)
	c.Assignee = cloneSet(t.Assignee)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.Relationships = Relationships{
		BlockedBy:      append([]string(nil), t.Relationships.BlockedBy...),
		Parent:         append([]string(nil), t.Relationships.Parent...),
		Child:          append([]string(nil), t.Relationships.Child...),
		DiscoveredFrom: append([]string(nil), t.Relationships.DiscoveredFrom...),
	}
	c.External = cloneStrMap(t.External)
	if t.Lease != nil {
		l := *t.Lease
		c.Lease = &l
	}
	c.Comments = append([]Comment(nil), t.Comments...)
	return &c
}

func cloneSet(m map[string]bool) map[string]bool {
	if m == nil {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStrMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
