package migrate

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/workmesh/workmesh/internal/task"
	"github.com/workmesh/workmesh/internal/werr"
)

// graphNode is one task's identity plus its edges, the unit the
// external mapper in rekey-prompt reasons over.
type graphNode struct {
	ID           string   `json:"id"`
	UID          string   `json:"uid"`
	Dependencies []string `json:"dependencies,omitempty"`
	BlockedBy    []string `json:"blocked_by,omitempty"`
	Parent       []string `json:"parent,omitempty"`
	Child        []string `json:"child,omitempty"`
}

// RekeyPayload is the self-contained document rekey-prompt emits: the
// full id/edge graph an external mapper needs to propose a mapping
// without any other access to the store.
type RekeyPayload struct {
	Tasks []graphNode `json:"tasks"`
}

// RekeyPrompt builds the payload for all, sorted by id for determinism.
func RekeyPrompt(all []*task.Task) (string, error) {
	nodes := make([]graphNode, len(all))
	for i, t := range all {
		nodes[i] = graphNode{
			ID: t.ID, UID: t.UID, Dependencies: t.Dependencies,
			BlockedBy: t.Relationships.BlockedBy, Parent: t.Relationships.Parent, Child: t.Relationships.Child,
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	data, err := json.MarshalIndent(RekeyPayload{Tasks: nodes}, "", "  ")
	if err != nil {
		return "", werr.Wrap(werr.IOError, err, "encoding rekey payload")
	}
	return string(data), nil
}

// Mapping is old id -> new id.
type Mapping map[string]string

// RekeyFinding reports what happened to one task file under
// rekey-apply.
type RekeyFinding struct {
	Path    string
	TaskID  string
	Applied bool
	Reason  string
}

// RekeyApply rewrites structured fields (id, dependencies,
// relationships.*) per mapping and, unless strict, also rewrites
// free-text mentions of old ids in the body sections. Each task is
// all-or-nothing: if anything about rewriting it fails, the file is
// left untouched and reported.
func RekeyApply(store *task.Store, mapping Mapping, strict bool) ([]RekeyFinding, error) {
	all, _ := store.LoadAll()

	var findings []RekeyFinding
	for _, t := range all {
		touched, err := rekeyOne(store, t, mapping, strict)
		if err != nil {
			findings = append(findings, RekeyFinding{Path: t.Path, TaskID: t.ID, Applied: false, Reason: err.Error()})
			continue
		}
		if touched {
			findings = append(findings, RekeyFinding{Path: t.Path, TaskID: t.ID, Applied: true})
		}
	}
	return findings, nil
}

// rekeyOne rewrites a single task's structured id fields via
// gjson/sjson point-patches over its JSON projection, then
// (non-strict) rewrites free-text mentions in its body sections, and
// persists the result. Returns touched=false (no error, no write) when
// no id in mapping appears anywhere in t.
func rekeyOne(store *task.Store, t *task.Task, mapping Mapping, strict bool) (touched bool, err error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return false, werr.Wrap(werr.IOError, err, "encoding %s for rekey", t.ID)
	}
	doc := string(raw)

	paths := []string{"id", "dependencies", "relationships.blocked_by", "relationships.parent", "relationships.child", "relationships.discovered_from"}
	for _, p := range paths {
		newDoc, changed, err := rekeyJSONPath(doc, p, mapping)
		if err != nil {
			return false, err
		}
		if changed {
			touched = true
			doc = newDoc
		}
	}

	bodyTouched := false
	if !strict && t.Sections != nil {
		for pair := t.Sections.Oldest(); pair != nil; pair = pair.Next() {
			if rewritten, changed := rewriteMentions(pair.Value, mapping); changed {
				t.Sections.Set(pair.Key, rewritten)
				bodyTouched = true
			}
		}
	}

	if !touched && !bodyTouched {
		return false, nil
	}

	var rekeyed task.Task
	if err := json.Unmarshal([]byte(doc), &rekeyed); err != nil {
		return false, werr.Wrap(werr.ParseError, err, "decoding rekeyed %s", t.ID)
	}
	// json.Unmarshal can't populate the unexported-internals fields
	// (Sections, Unknown, Comments, Path); carry those forward from
	// the original, with Sections already mutated above.
	rekeyed.Sections = t.Sections
	rekeyed.Unknown = t.Unknown
	rekeyed.Comments = t.Comments
	rekeyed.Path = t.Path
	rekeyed.CreatedDate = t.CreatedDate

	if err := store.Rekey(&rekeyed); err != nil {
		return false, err
	}
	return true, nil
}

// rekeyJSONPath applies mapping to every string at path (a scalar or
// an array of strings) in doc, returning the new document and whether
// anything changed.
func rekeyJSONPath(doc, path string, mapping Mapping) (string, bool, error) {
	result := gjson.Get(doc, path)
	if !result.Exists() {
		return doc, false, nil
	}

	changed := false
	if result.IsArray() {
		var rewritten []string
		for _, v := range result.Array() {
			old := v.String()
			if repl, ok := mapping[old]; ok {
				rewritten = append(rewritten, repl)
				changed = true
			} else {
				rewritten = append(rewritten, old)
			}
		}
		if !changed {
			return doc, false, nil
		}
		newDoc, err := sjson.Set(doc, path, rewritten)
		if err != nil {
			return doc, false, werr.Wrap(werr.IOError, err, "rekeying %s", path)
		}
		return newDoc, true, nil
	}

	old := result.String()
	repl, ok := mapping[old]
	if !ok {
		return doc, false, nil
	}
	newDoc, err := sjson.Set(doc, path, repl)
	if err != nil {
		return doc, false, werr.Wrap(werr.IOError, err, "rekeying %s", path)
	}
	return newDoc, true, nil
}

// rewriteMentions replaces every free-text occurrence of an old id
// with its mapped new id in body text (non-strict rekey-apply).
func rewriteMentions(body string, mapping Mapping) (string, bool) {
	changed := false
	for old, repl := range mapping {
		if old == "" || !strings.Contains(body, old) {
			continue
		}
		body = strings.ReplaceAll(body, old, repl)
		changed = true
	}
	return body, changed
}
