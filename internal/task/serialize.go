package task

import (
	"bytes"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/workmesh/workmesh/internal/fmatter"
)

// Serialize renders a Task back into its canonical on-disk form:
// fixed-order front matter, then canonical body sections, then any
// preserved unknown sections.
func (t *Task) Serialize() ([]byte, error) {
	fields := t.toFields()

	fm, err := fmatter.Render(fields, t.Unknown)
	if err != nil {
		return nil, err
	}

	sections := t.Sections
	if sections == nil {
		sections = orderedmap.New[string, string]()
	}
	if len(t.Comments) > 0 {
		sections = cloneSections(sections)
		sections.Set("Comments", renderComments(t.Comments))
	}
	body := fmatter.RenderSections(sections)

	var buf bytes.Buffer
	buf.Write(fm)
	buf.WriteString("\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

func cloneSections(src *orderedmap.OrderedMap[string, string]) *orderedmap.OrderedMap[string, string] {
	dst := orderedmap.New[string, string]()
	for pair := src.Oldest(); pair != nil; pair = pair.Next() {
		dst.Set(pair.Key, pair.Value)
	}
	return dst
}

func (t *Task) toFields() map[string]any {
	fields := map[string]any{
		"uid":    t.UID,
		"id":     t.ID,
		"title":  t.Title,
		"kind":   t.Kind,
		"status": t.Status,
	}
	if t.Priority != "" {
		fields["priority"] = t.Priority
	}
	if t.Phase != "" {
		fields["phase"] = t.Phase
	}
	if labels := t.LabelSlice(); len(labels) > 0 {
		fields["labels"] = toAnyList(labels)
	}
	if assignee := t.AssigneeSlice(); len(assignee) > 0 {
		fields["assignee"] = toAnyList(assignee)
	}
	if len(t.Dependencies) > 0 {
		fields["dependencies"] = toAnyList(t.Dependencies)
	}

	rel := map[string]any{}
	if len(t.Relationships.BlockedBy) > 0 {
		rel["blocked_by"] = toAnyList(t.Relationships.BlockedBy)
	}
	if len(t.Relationships.Parent) > 0 {
		rel["parent"] = toAnyList(t.Relationships.Parent)
	}
	if len(t.Relationships.Child) > 0 {
		rel["child"] = toAnyList(t.Relationships.Child)
	}
	if len(t.Relationships.DiscoveredFrom) > 0 {
		rel["discovered_from"] = toAnyList(t.Relationships.DiscoveredFrom)
	}
	if len(rel) > 0 {
		fields["relationships"] = rel
	}

	if t.Project != "" {
		fields["project"] = t.Project
	}
	if t.Initiative != "" {
		fields["initiative"] = t.Initiative
	}
	if len(t.External) > 0 {
		ext := map[string]any{}
		for k, v := range t.External {
			ext[k] = v
		}
		fields["external"] = ext
	}
	if t.Lease != nil {
		fields["lease"] = map[string]any{
			"owner":       t.Lease.Owner,
			"acquired_at": t.Lease.AcquiredAt.UTC().Format(time.RFC3339),
			"expires_at":  t.Lease.ExpiresAt.UTC().Format(time.RFC3339),
		}
	}
	if !t.CreatedDate.IsZero() {
		fields["created_date"] = t.CreatedDate.UTC().Format(time.RFC3339)
	}
	if !t.UpdatedDate.IsZero() {
		fields["updated_date"] = t.UpdatedDate.UTC().Format(time.RFC3339)
	}
	if t.PRD != "" {
		fields["prd"] = t.PRD
	}
	return fields
}

func toAnyList(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
