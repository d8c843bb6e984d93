package task

import (
	"fmt"
	"time"

	"github.com/workmesh/workmesh/internal/fmatter"
	"github.com/workmesh/workmesh/internal/werr"
)

// Parse decodes a full task file (front matter + body) into a Task.
// Front-matter parsing is tolerant; unrecognized body
// sections are preserved verbatim.
func Parse(raw []byte, path string) (*Task, error) {
	fm, body, err := fmatter.Split(raw)
	if err != nil {
		return nil, annotatePath(err, path)
	}
	norm, err := fmatter.Parse(fm)
	if err != nil {
		return nil, annotatePath(err, path)
	}

	t, err := fromFields(norm.Fields)
	if err != nil {
		return nil, annotatePath(err, path)
	}
	t.Unknown = norm.Unknown
	t.Path = path
	t.Sections = fmatter.ParseSections(body)
	if c, ok := t.Sections.Get("Comments"); ok {
		t.Comments = parseComments(c)
		t.Sections.Delete("Comments")
	}
	return t, nil
}

func annotatePath(err error, path string) error {
	if e, ok := err.(*werr.Error); ok {
		e.Path = path
		return e
	}
	return err
}

func fromFields(f map[string]any) (*Task, error) {
	t := &Task{
		Labels:   map[string]bool{},
		Assignee: map[string]bool{},
		External: map[string]string{},
	}

	t.UID, _ = f["uid"].(string)
	t.ID, _ = f["id"].(string)
	t.Title, _ = f["title"].(string)
	t.Kind, _ = f["kind"].(string)
	t.Status, _ = f["status"].(string)
	t.Priority = stringField(f, "priority")
	t.Phase = stringField(f, "phase")
	t.Project = stringField(f, "project")
	t.Initiative = stringField(f, "initiative")
	t.PRD = stringField(f, "prd")

	for _, label := range toStringList(f["labels"]) {
		t.Labels[label] = true
	}
	for _, a := range toStringList(f["assignee"]) {
		t.Assignee[a] = true
	}
	t.Dependencies = toStringList(f["dependencies"])

	if rel, ok := f["relationships"].(map[string]any); ok {
		t.Relationships = Relationships{
			BlockedBy:      toStringList(rel["blocked_by"]),
			Parent:         toStringList(rel["parent"]),
			Child:          toStringList(rel["child"]),
			DiscoveredFrom: toStringList(rel["discovered_from"]),
		}
	}

	if ext, ok := f["external"].(map[string]any); ok {
		for k, v := range ext {
			if s, ok := v.(string); ok {
				t.External[k] = s
			} else {
				t.External[k] = fmt.Sprintf("%v", v)
			}
		}
	}

	if leaseMap, ok := f["lease"].(map[string]any); ok {
		lease := &Lease{}
		lease.Owner, _ = leaseMap["owner"].(string)
		lease.AcquiredAt = parseTimeValue(leaseMap["acquired_at"])
		lease.ExpiresAt = parseTimeValue(leaseMap["expires_at"])
		if lease.Owner != "" {
			t.Lease = lease
		}
	}

	t.CreatedDate = parseTimeValue(f["created_date"])
	t.UpdatedDate = parseTimeValue(f["updated_date"])

	return t, nil
}

func stringField(f map[string]any, key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case int:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}

func toStringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprintf("%v", e))
			}
		}
		return out
	case []string:
		return t
	default:
		return nil
	}
}

func parseTimeValue(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	default:
		return time.Time{}
	}
}

func parseComments(body string) []Comment {
	// Comments are rendered as "- author @ RFC3339: body" lines by
	// renderComments; tolerate anything else by ignoring it (best
	// effort, never fails the overall parse).
	return parseCommentLines(body)
}
