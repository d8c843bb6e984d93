package task

// EpicComplete implements the epic-completion predicate: Done
// is permitted iff every element of dependencies, every element of
// relationships.blocked_by, every task whose relationships.parent
// contains this epic, and every explicit relationships.child is Done.
func EpicComplete(epic *Task, all []*Task) bool {
	for _, ref := range epic.AllBlockingRefs() {
		dep := findRef(all, ref)
		if dep == nil || dep.Status != StatusDone {
			return false
		}
	}
	for _, ref := range epic.Relationships.Child {
		child := findRef(all, ref)
		if child == nil || child.Status != StatusDone {
			return false
		}
	}
	for _, child := range all {
		if taskIsChildOf(child, epic.ID) && child.Status != StatusDone {
			return false
		}
	}
	return true
}

func taskIsChildOf(child *Task, parentID string) bool {
	for _, p := range child.Relationships.Parent {
		if p == parentID {
			return true
		}
	}
	return false
}

func findRef(all []*Task, ref string) *Task {
	for _, t := range all {
		if t.ID == ref || t.UID == ref {
			return t
		}
	}
	return nil
}
