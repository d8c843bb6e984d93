package task

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/workmesh/workmesh/internal/werr"
)

var relativeDuration = regexp.MustCompile(`^(\d+)([dwmy])$`)

var nlParser = buildNLParser()

func buildNLParser() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}

// ResolveArchiveBefore resolves an archive-policy cutoff string
// relative to now. The Task Store's archive() operation accepts
// either the compact relative form ("0d", "30d", "2w") or free-form
// natural language ("yesterday", "last monday"), the latter handled
// by an embedded NL date parser since the core, not a CLI flag
// parser, owns policy resolution.
func ResolveArchiveBefore(policy string, now time.Time) (time.Time, error) {
	if m := relativeDuration.FindStringSubmatch(policy); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, werr.Wrap(werr.ConfigError, err, "invalid archive policy %q", policy)
		}
		var d time.Duration
		switch m[2] {
		case "d":
			d = time.Duration(n) * 24 * time.Hour
		case "w":
			d = time.Duration(n) * 7 * 24 * time.Hour
		case "m":
			d = time.Duration(n) * 30 * 24 * time.Hour
		case "y":
			d = time.Duration(n) * 365 * 24 * time.Hour
		}
		return now.Add(-d), nil
	}

	r, err := nlParser.Parse(policy, now)
	if err != nil {
		return time.Time{}, werr.Wrap(werr.ConfigError, err, "parsing archive policy %q", policy)
	}
	if r == nil {
		return time.Time{}, werr.New(werr.ConfigError, "unrecognized archive policy %q", policy)
	}
	return r.Time, nil
}

// ArchiveMonthDir returns the "YYYY-MM" directory name a task dated t
// archives into.
func ArchiveMonthDir(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}
