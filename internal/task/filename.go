package task

import (
	"fmt"
	"regexp"
	"strings"
)

var nonSlugChar = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases title and collapses anything that isn't a
// letter/digit into single hyphens, trimming leading/trailing ones.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = nonSlugChar.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Filename renders the on-disk filename convention:
// "<id> - <slug>[ - <uid_prefix>].md". The short UID suffix is
// included whenever uid is non-empty, to prevent merge collisions
// when two branches allocate the same id.
func Filename(id, title, uid string) string {
	slug := Slugify(title)
	name := fmt.Sprintf("%s - %s", id, slug)
	if uid != "" {
		prefix := uid
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
		name = fmt.Sprintf("%s - %s", name, strings.ToLower(prefix))
	}
	return name + ".md"
}

// filenamePattern extracts id, slug, and optional uid prefix back out
// of a generated filename.
var filenamePattern = regexp.MustCompile(`^(.+?) - (.+?)(?: - ([0-9a-z]{6,8}))?\.md$`)

// ParseFilename best-effort parses the convention back into its parts.
// Used for diagnostics only; the task's own front matter is always the
// source of truth for id/uid.
func ParseFilename(name string) (id, slug, uidPrefix string, ok bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return "", "", "", false
	}
	return m[1], m[2], m[3], true
}
