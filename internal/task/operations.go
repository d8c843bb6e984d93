package task

import (
	"fmt"
	"time"

	"github.com/workmesh/workmesh/internal/werr"
)

// AddFields is the caller-supplied input to Add; UID/ID are allocated
// by the caller (normally via the idalloc package) and passed in,
// since allocation must see every existing task to avoid collisions.
type AddFields struct {
	UID, ID, Title, Kind, Status, Priority, Phase, Project, Initiative string
	Labels, Assignee, Dependencies                                    []string
	Relationships                                                     Relationships
	Description, AcceptanceCriteria, DefinitionOfDone                 string
}

// Add allocates nothing itself (UID/ID must already be set on f) and
// writes a new task file, failing with DuplicateId if the id already
// exists.
func (s *Store) Add(f AddFields) (*Task, error) {
	if existing, err := s.FindByID(f.ID); err == nil {
		return nil, werr.New(werr.DuplicateID, "task id %s already exists at %s", f.ID, existing.Path)
	}
	if f.UID != "" {
		if existing, err := s.FindByUID(f.UID); err == nil {
			return nil, werr.New(werr.DuplicateUID, "task uid %s already exists at %s", f.UID, existing.Path)
		}
	}

	now := s.clock.Now()
	t := &Task{
		UID: f.UID, ID: f.ID, Title: f.Title, Kind: f.Kind,
		Status: f.Status, Priority: f.Priority, Phase: f.Phase,
		Project: f.Project, Initiative: f.Initiative,
		Labels: toSet(f.Labels), Assignee: toSet(f.Assignee),
		Dependencies: f.Dependencies, Relationships: f.Relationships,
		External:    map[string]string{},
		CreatedDate: now, UpdatedDate: now,
	}
	if t.Status == "" {
		t.Status = StatusToDo
	}
	t.Sections = newSections(f.Description, f.AcceptanceCriteria, f.DefinitionOfDone)
	t.Path = filepathJoin(s.dir, Filename(t.ID, t.Title, t.UID))

	if err := s.write(t); err != nil {
		return nil, err
	}
	s.notify("add", nil, t)
	return t, nil
}

// SetStatus transitions a task's status, enforcing epic-completion
// gating and releasing the lease when the task leaves In Progress for
// a terminal status (see IsTerminal). Context
// working-set maintenance is handled by the caller listening to
// MutationEvent, keeping Context ignorant of file layout.
func (s *Store) SetStatus(id, status string) (*Task, error) {
	t, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	before := t.Clone()

	if t.Kind == EpicKind && status == StatusDone {
		all, _ := s.LoadAll()
		if !EpicComplete(t, all) {
			return nil, werr.New(werr.InvalidTransition, "epic %s cannot be marked Done: dependencies, blockers, or children are not all Done", id)
		}
	}

	t.Status = status
	if before.Status == StatusInProgress && IsTerminal(status) {
		t.Lease = nil
	}
	s.touch(t, true)

	if err := s.write(t); err != nil {
		return nil, err
	}
	s.notify("set_status", before, t)
	return t, nil
}

// SetField sets an arbitrary scalar field by name (title, priority,
// phase, project, initiative, prd). Unknown field names are rejected.
func (s *Store) SetField(id, field, value string, touch bool) (*Task, error) {
	t, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	before := t.Clone()

	switch field {
	case "title":
		t.Title = value
	case "priority":
		t.Priority = value
	case "phase":
		t.Phase = value
	case "project":
		t.Project = value
	case "initiative":
		t.Initiative = value
	case "prd":
		t.PRD = value
	default:
		return nil, werr.New(werr.ConfigError, "unknown field %q", field)
	}
	s.touch(t, touch)

	if err := s.write(t); err != nil {
		return nil, err
	}
	s.notify("set_field", before, t)
	return t, nil
}

func (s *Store) LabelAdd(id, label string) (*Task, error) {
	t, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	before := t.Clone()
	t.Labels[label] = true
	s.touch(t, true)
	if err := s.write(t); err != nil {
		return nil, err
	}
	s.notify("label_add", before, t)
	return t, nil
}

func (s *Store) LabelRemove(id, label string) (*Task, error) {
	t, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	before := t.Clone()
	delete(t.Labels, label)
	s.touch(t, true)
	if err := s.write(t); err != nil {
		return nil, err
	}
	s.notify("label_remove", before, t)
	return t, nil
}

// DepAdd adds a dependency edge id -> dependsOn, rejecting cycles via
// DFS over the whole graph.
func (s *Store) DepAdd(id, dependsOn string) (*Task, error) {
	t, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	if t.HasDependencyOrBlocker(dependsOn) {
		return t, nil
	}
	before := t.Clone()

	all, _ := s.LoadAll()
	graph := buildDependencyGraph(all)
	graph[id] = append(graph[id], dependsOn)
	if cyclePath := detectCycleFrom(graph, id); cyclePath != nil {
		return nil, werr.New(werr.CycleDetected, "adding dependency %s -> %s would create a cycle: %v", id, dependsOn, cyclePath)
	}

	t.Dependencies = append(t.Dependencies, dependsOn)
	s.touch(t, true)
	if err := s.write(t); err != nil {
		return nil, err
	}
	s.notify("dep_add", before, t)
	return t, nil
}

func (s *Store) DepRemove(id, dependsOn string) (*Task, error) {
	t, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	before := t.Clone()
	t.Dependencies = removeString(t.Dependencies, dependsOn)
	s.touch(t, true)
	if err := s.write(t); err != nil {
		return nil, err
	}
	s.notify("dep_remove", before, t)
	return t, nil
}

// ParentSet makes parentID the sole parent of id, keeping the
// parent's Relationships.Child list in sync so epic-completion
// lookups (EpicComplete) can walk either direction.
func (s *Store) ParentSet(id, parentID string) (*Task, error) {
	t, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	before := t.Clone()
	t.Relationships.Parent = []string{parentID}
	s.touch(t, true)
	if err := s.write(t); err != nil {
		return nil, err
	}

	if parent, err := s.FindByID(parentID); err == nil {
		if !containsStr(parent.Relationships.Child, id) {
			parent.Relationships.Child = append(parent.Relationships.Child, id)
			s.touch(parent, true)
			_ = s.write(parent)
		}
	}

	s.notify("parent_set", before, t)
	return t, nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Store) AddNote(id, note string) (*Task, error) {
	t, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	before := t.Clone()
	existing, _ := t.Sections.Get("Notes")
	if existing != "" {
		existing += "\n"
	}
	existing += fmt.Sprintf("- %s: %s", s.clock.Now().UTC().Format(time.RFC3339), note)
	t.Sections.Set("Notes", existing)
	s.touch(t, true)
	if err := s.write(t); err != nil {
		return nil, err
	}
	s.notify("add_note", before, t)
	return t, nil
}

func (s *Store) SetSection(id, section, content string) (*Task, error) {
	t, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	before := t.Clone()
	t.Sections.Set(section, content)
	s.touch(t, true)
	if err := s.write(t); err != nil {
		return nil, err
	}
	s.notify("set_section", before, t)
	return t, nil
}

// SetBody replaces the Description section wholesale, matching the
// common "set_body" shorthand for the primary section.
func (s *Store) SetBody(id, description string) (*Task, error) {
	return s.SetSection(id, "Description", description)
}

func (s *Store) CommentAdd(id, author, body string) (*Task, error) {
	t, err := s.FindByID(id)
	if err != nil {
		return nil, err
	}
	before := t.Clone()
	t.Comments = append(t.Comments, Comment{Author: author, Body: body, CreatedAt: s.clock.Now()})
	s.touch(t, true)
	if err := s.write(t); err != nil {
		return nil, err
	}
	s.notify("comment_add", before, t)
	return t, nil
}

// BulkResult is one outcome of a Bulk operation.
type BulkResult struct {
	ID    string
	Task  *Task
	Err   error
}

// Bulk applies op to each id in order, stopping at the first failure
// and returning per-task outcomes.
func Bulk(ids []string, op func(id string) (*Task, error)) []BulkResult {
	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		t, err := op(id)
		results = append(results, BulkResult{ID: id, Task: t, Err: err})
		if err != nil {
			break
		}
	}
	return results
}

// Archive moves every Done task last updated before cutoff into
// archive/YYYY-MM/ (by its own UpdatedDate), leaving non-Done tasks
// untouched.
func (s *Store) Archive(cutoff time.Time) ([]*Task, error) {
	if s.archiveDir == "" {
		return nil, werr.New(werr.ConfigError, "archive directory not configured")
	}
	all, _ := s.LoadAll()

	var archived []*Task
	for _, t := range all {
		if t.Status != StatusDone || !t.UpdatedDate.Before(cutoff) {
			continue
		}
		before := t.Clone()

		destDir := s.archiveDir + "/" + ArchiveMonthDir(t.UpdatedDate)
		if err := s.fs.MkdirAll(destDir, 0o750); err != nil {
			return archived, werr.Wrap(werr.IOError, err, "creating archive dir for %s", t.ID)
		}
		dest := destDir + "/" + t.Path[len(s.dir)+1:]

		if err := s.fs.Rename(t.Path, dest); err != nil {
			return archived, werr.Wrap(werr.IOError, err, "archiving %s", t.ID)
		}
		if s.cache != nil {
			s.cache.Remove(t.Path)
		}
		t.Path = dest
		archived = append(archived, t)
		s.notify("archive", before, t)
	}
	return archived, nil
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		if i != "" {
			m[i] = true
		}
	}
	return m
}

func removeString(list []string, s string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func filepathJoin(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// Rekey overwrites an already-loaded task wholesale (structured fields
// and, at the caller's discretion, body text already rewritten in
// place) and atomically persists it, without going through the
// narrower per-field setters. Used by rekey-apply, which must rewrite
// several fields in one all-or-nothing file write.
func (s *Store) Rekey(t *Task) error {
	before := t.Clone()
	s.touch(t, true)
	if err := s.write(t); err != nil {
		return err
	}
	s.notify("rekey", before, t)
	return nil
}
