package task

import (
	"fmt"
	"strings"
	"time"
)

// commentLine renders one Comment as "- author @ RFC3339: body",
// folding multi-line bodies under an indented continuation so the
// section stays one bullet per comment.
func commentLine(c Comment) string {
	body := strings.ReplaceAll(c.Body, "\n", "\n  ")
	return fmt.Sprintf("- %s @ %s: %s", c.Author, c.CreatedAt.UTC().Format(time.RFC3339), body)
}

func renderComments(comments []Comment) string {
	lines := make([]string, 0, len(comments))
	for _, c := range comments {
		lines = append(lines, commentLine(c))
	}
	return strings.Join(lines, "\n")
}

func parseCommentLines(body string) []Comment {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	var comments []Comment
	var cur *Comment
	for _, raw := range strings.Split(body, "\n") {
		if strings.HasPrefix(raw, "- ") {
			if cur != nil {
				comments = append(comments, *cur)
			}
			c, ok := parseCommentHeader(raw[2:])
			if !ok {
				cur = nil
				continue
			}
			cur = &c
			continue
		}
		if cur != nil && strings.HasPrefix(raw, "  ") {
			cur.Body += "\n" + strings.TrimPrefix(raw, "  ")
		}
	}
	if cur != nil {
		comments = append(comments, *cur)
	}
	return comments
}

func parseCommentHeader(line string) (Comment, bool) {
	atIdx := strings.Index(line, " @ ")
	colonIdx := strings.Index(line, ": ")
	if atIdx < 0 || colonIdx < 0 || colonIdx < atIdx {
		return Comment{}, false
	}
	author := line[:atIdx]
	tsStr := line[atIdx+3 : colonIdx]
	body := line[colonIdx+2:]
	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return Comment{}, false
	}
	return Comment{Author: author, Body: body, CreatedAt: ts}, true
}
