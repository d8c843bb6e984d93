// Package fmatter implements the tolerant front-matter codec used by
// the Task Store: parsing accepts both nested and flat
// "relationships" shapes and preserves unknown keys for round-trip;
// writing emits a stable, canonical shape.
package fmatter

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"github.com/workmesh/workmesh/internal/werr"
	yaml "gopkg.in/yaml.v2"
)

const fence = "---"

// relationshipKeys are the flat top-level keys that get folded into
// the nested "relationships" map on read, and are never emitted at
// top level on write.
var relationshipKeys = []string{"blocked_by", "parent", "child", "discovered_from"}

// Split separates a task file's front matter from its body. raw must
// begin with a "---" fence; the front matter ends at the next line
// that is exactly "---".
func Split(raw []byte) (frontMatter []byte, body []byte, err error) {
	s := string(raw)
	if !strings.HasPrefix(strings.TrimLeft(s, "\xef\xbb\xbf"), fence) {
		return nil, nil, werr.New(werr.ParseError, "missing opening front-matter fence")
	}
	s = strings.TrimPrefix(strings.TrimLeft(s, "\xef\xbb\xbf"), fence)
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimPrefix(s, "\r\n")

	idx := indexFence(s)
	if idx < 0 {
		return nil, nil, werr.New(werr.ParseError, "missing closing front-matter fence")
	}
	fm := s[:idx]
	rest := s[idx+len(fence):]
	rest = strings.TrimPrefix(rest, "\r\n")
	rest = strings.TrimPrefix(rest, "\n")
	return []byte(fm), []byte(rest), nil
}

func indexFence(s string) int {
	lines := strings.Split(s, "\n")
	offset := 0
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == fence {
			return offset
		}
		offset += len(line) + 1
	}
	return -1
}

// Normalized is the result of tolerantly parsing a front-matter block:
// Fields holds every recognized top-level value after folding flat
// relationship keys into a nested "relationships" map, and Unknown
// preserves every key the parser didn't recognize, in file order, so
// it can be re-emitted on write without loss.
type Normalized struct {
	Fields  map[string]any
	Unknown *orderedmap.OrderedMap[string, any]
}

// Parse tolerantly decodes a front-matter block. It accepts both
// nested (`relationships: { blocked_by: [...] }`) and flat
// (`blocked_by: [...]` at top level) shapes for relationships, and
// accepts scalar-or-list for fields that may be either.
func Parse(fm []byte) (*Normalized, error) {
	raw := yaml.MapSlice{}
	if err := yaml.Unmarshal(fm, &raw); err != nil {
		return nil, werr.Wrap(werr.ParseError, err, "parsing front matter")
	}

	fields := map[string]any{}
	unknown := orderedmap.New[string, any]()
	relationships := map[string]any{}

	known := knownFieldSet()

	for _, item := range raw {
		key, ok := item.Key.(string)
		if !ok {
			continue
		}
		val := normalizeScalarOrList(item.Value)

		switch {
		case key == "relationships":
			mergeRelationships(relationships, val)
		case containsString(relationshipKeys, key):
			relationships[key] = val
		case known[key]:
			fields[key] = val
		default:
			unknown.Set(key, val)
		}
	}

	if len(relationships) > 0 {
		fields["relationships"] = relationships
	}

	return &Normalized{Fields: fields, Unknown: unknown}, nil
}

func mergeRelationships(dst map[string]any, v any) {
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	for k, val := range m {
		dst[k] = normalizeScalarOrList(val)
	}
}

// normalizeScalarOrList recursively converts yaml.MapSlice/[]interface{}
// into plain map[string]any/[]any so downstream code never has to
// special-case yaml's intermediate types.
func normalizeScalarOrList(v any) any {
	switch t := v.(type) {
	case yaml.MapSlice:
		m := map[string]any{}
		for _, item := range t {
			if k, ok := item.Key.(string); ok {
				m[k] = normalizeScalarOrList(item.Value)
			}
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeScalarOrList(e)
		}
		return out
	default:
		return v
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func knownFieldSet() map[string]bool {
	fieldsList := []string{
		"uid", "id", "title", "kind", "status", "priority", "phase",
		"labels", "assignee", "dependencies", "relationships",
		"project", "initiative", "external", "lease",
		"created_date", "updated_date", "prd",
	}
	m := make(map[string]bool, len(fieldsList))
	for _, f := range fieldsList {
		m[f] = true
	}
	return m
}

// canonicalOrder is the fixed key emission order for writing: the
// on-disk shape is stable, with keys emitted in a fixed order.
var canonicalOrder = []string{
	"uid", "id", "title", "kind", "status", "priority", "phase",
	"labels", "assignee", "dependencies", "relationships",
	"project", "initiative", "external", "lease",
	"created_date", "updated_date", "prd",
}

// Render emits a canonical front-matter block: known fields in fixed
// order, omitting zero values, followed by unknown fields in their
// original order, wrapped in "---" fences.
func Render(fields map[string]any, unknown *orderedmap.OrderedMap[string, any]) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fence)
	buf.WriteString("\n")

	for _, key := range canonicalOrder {
		v, ok := fields[key]
		if !ok || isZero(v) {
			continue
		}
		if err := encodeLine(&buf, key, v); err != nil {
			return nil, werr.Wrap(werr.IOError, err, "encoding field %s", key)
		}
	}

	if unknown != nil {
		for pair := unknown.Oldest(); pair != nil; pair = pair.Next() {
			if err := encodeLine(&buf, pair.Key, pair.Value); err != nil {
				return nil, werr.Wrap(werr.IOError, err, "encoding unknown field %s", pair.Key)
			}
		}
	}
	buf.WriteString(fence)
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

// encodeLine marshals a single key/value pair as one line (or block)
// of the front-matter mapping, preserving emission order across
// separate Marshal calls the way a single streaming Encoder would.
func encodeLine(buf *bytes.Buffer, key string, v any) error {
	out, err := yaml.Marshal(yaml.MapSlice{{Key: key, Value: v}})
	if err != nil {
		return err
	}
	buf.Write(out)
	return nil
}

func isZero(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case bool:
		return false // explicit false is meaningful, e.g. lease fields
	case int:
		return false
	default:
		return false
	}
}

// SortedKeys is a small helper used by callers that need deterministic
// map iteration (e.g. rendering a set-typed field like labels).
func SortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fprint is a debug helper: renders fields/unknown and writes to a string.
func Fprint(fields map[string]any, unknown *orderedmap.OrderedMap[string, any]) string {
	b, err := Render(fields, unknown)
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return string(b)
}
