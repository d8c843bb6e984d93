package fmatter

import (
	"bytes"
	"regexp"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// h2Header matches a Markdown "## Section" heading.
var h2Header = regexp.MustCompile(`^##\s+(.+?)\s*$`)

// underlineHeader matches the "Section:\n----" delimiter form.
var underlineHeader = regexp.MustCompile(`^([A-Za-z][A-Za-z ]*):\s*$`)
var underline = regexp.MustCompile(`^-{3,}\s*$`)

// CanonicalSections is the fixed section order the Task body is
// split into. Any additional headings found in a file are
// preserved verbatim, in file order, after these.
var CanonicalSections = []string{
	"Description",
	"Acceptance Criteria",
	"Definition of Done",
	"Notes",
	"Implementation Notes",
	"Comments",
}

// ParseSections splits a task body into an ordered map of section
// name -> content (trimmed of leading/trailing blank lines), using
// either "## Name" or "Name:\n----" delimiters. Unknown sections are
// preserved verbatim under their own heading name for round-trip.
func ParseSections(body []byte) *orderedmap.OrderedMap[string, string] {
	sections := orderedmap.New[string, string]()
	lines := strings.Split(string(body), "\n")

	currentName := ""
	var currentLines []string
	flush := func() {
		if currentName == "" {
			return
		}
		content := strings.Join(currentLines, "\n")
		content = strings.Trim(content, "\n")
		sections.Set(currentName, content)
	}

	i := 0
	for i < len(lines) {
		line := lines[i]
		if m := h2Header.FindStringSubmatch(line); m != nil {
			flush()
			currentName = strings.TrimSpace(m[1])
			currentLines = nil
			i++
			continue
		}
		if m := underlineHeader.FindStringSubmatch(line); m != nil && i+1 < len(lines) && underline.MatchString(lines[i+1]) {
			flush()
			currentName = strings.TrimSpace(m[1])
			currentLines = nil
			i += 2
			continue
		}
		currentLines = append(currentLines, line)
		i++
	}
	flush()
	return sections
}

// RenderSections re-emits sections using the canonical "## Name" form,
// canonical sections first (in CanonicalSections order; a canonical
// section absent from sections is skipped, one present with empty
// content is still written), followed by any remaining (unknown)
// sections in their original order.
func RenderSections(sections *orderedmap.OrderedMap[string, string]) []byte {
	var buf bytes.Buffer
	written := map[string]bool{}

	writeOne := func(name, content string) {
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString("## ")
		buf.WriteString(name)
		buf.WriteString("\n\n")
		buf.WriteString(strings.TrimRight(content, "\n"))
		buf.WriteString("\n")
	}

	for _, name := range CanonicalSections {
		if v, ok := sections.Get(name); ok {
			writeOne(name, v)
			written[name] = true
		}
	}
	for pair := sections.Oldest(); pair != nil; pair = pair.Next() {
		if written[pair.Key] {
			continue
		}
		writeOne(pair.Key, pair.Value)
	}
	return buf.Bytes()
}
