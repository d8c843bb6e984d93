package task

import orderedmap "github.com/wk8/go-ordered-map/v2"

// canonicalBodyOrder lists, in order, the sections newSections can
// seed a freshly-created task with. It is not read when rendering:
// fmatter.RenderSections writes fmatter.CanonicalSections first, in
// that order, for new and existing tasks alike.
var canonicalBodyOrder = []string{"Description", "Acceptance Criteria", "Definition of Done"}

func newSections(description, acceptance, dod string) *orderedmap.OrderedMap[string, string] {
	m := orderedmap.New[string, string]()
	if description != "" {
		m.Set("Description", description)
	}
	if acceptance != "" {
		m.Set("Acceptance Criteria", acceptance)
	}
	if dod != "" {
		m.Set("Definition of Done", dod)
	}
	return m
}
