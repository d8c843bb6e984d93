// Package idalloc implements the ID Allocator (C2): ULIDs for `uid`,
// namespaced `task-<init>-NNN` ids for `id`, and 4-letter initiative
// codes derived from a branch hint and frozen in project config.
package idalloc

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// legacyIDPattern matches the tolerated legacy "task-NNN" form (no
// initiative segment).
var legacyIDPattern = regexp.MustCompile(`^task-(\d+)$`)

// idPattern matches the canonical "task-<init>-NNN" form.
var idPattern = regexp.MustCompile(`^task-([a-z]{4})-(\d+)$`)

// CleanBranchSegment extracts the letters-only, lowercased last path
// segment of a branch name, e.g. "feature/Login-Flow" -> "loginflow".
func CleanBranchSegment(branch string) string {
	seg := path.Base(strings.TrimSpace(branch))
	var sb strings.Builder
	for _, r := range strings.ToLower(seg) {
		if r >= 'a' && r <= 'z' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// baseCode derives the unpadded-for-dedup 4-letter code for a branch
// hint: first four letters of the cleaned segment, padded by
// repetition if the segment yields fewer than four letters, padded
// deterministically.
func baseCode(branch string) string {
	cleaned := CleanBranchSegment(branch)
	if cleaned == "" {
		cleaned = "task"
	}
	for len(cleaned) < 4 {
		cleaned += cleaned
	}
	return cleaned[:4]
}

// DeriveInitiative returns the 4-letter initiative code for branch,
// reusing the code already frozen for that exact branch in
// frozen (branch -> code), or deriving and de-duplicating a new one
// against every other frozen code.
//
// Dedup strategy: if the derived code collides with a code frozen for
// a *different* branch, replace the last character with the next
// unused letter a-z; if all 26 are exhausted, rotate to the third
// character and repeat, then the second, then the first. If every such
// single-position variant is taken, the first unused code in a-z order
// is used.
func DeriveInitiative(branch string, frozen map[string]string) string {
	if existing, ok := frozen[branch]; ok && existing != "" {
		return existing
	}

	used := make(map[string]bool, len(frozen))
	for b, code := range frozen {
		if b != branch {
			used[code] = true
		}
	}

	candidate := baseCode(branch)
	if !used[candidate] {
		return candidate
	}

	letters := []byte(candidate)
	for pos := 3; pos >= 0; pos-- {
		orig := letters[pos]
		for c := byte('a'); c <= 'z'; c++ {
			letters[pos] = c
			cand := string(letters)
			if !used[cand] {
				return cand
			}
		}
		letters[pos] = orig
	}
	// Every single-position substitution is taken: scan the full 26^4
	// space in order for the first unused code.
	for i := 0; i < 26*26*26*26; i++ {
		var code [4]byte
		for p, n := 3, i; p >= 0; p, n = p-1, n/26 {
			code[p] = byte('a' + n%26)
		}
		if !used[string(code[:])] {
			return string(code[:])
		}
	}
	// All 456,976 codes are frozen to other branches.
	return candidate
}

// ParseID parses a display id into its initiative and number, or
// reports ok=false if it's not a recognized form. Legacy "task-NNN"
// ids parse with an empty initiative.
func ParseID(id string) (init string, num int, ok bool) {
	if m := idPattern.FindStringSubmatch(id); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, false
		}
		return m[1], n, true
	}
	if m := legacyIDPattern.FindStringSubmatch(id); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return "", 0, false
		}
		return "", n, true
	}
	return "", 0, false
}

// NextNumber returns the smallest positive integer not present in used.
func NextNumber(used map[int]bool) int {
	n := 1
	for used[n] {
		n++
	}
	return n
}

// FormatID renders the canonical "task-<init>-NNN" form, zero-padded
// to at least 3 digits.
func FormatID(init string, num int) string {
	if init == "" {
		return fmt.Sprintf("task-%03d", num)
	}
	return fmt.Sprintf("task-%s-%03d", init, num)
}
