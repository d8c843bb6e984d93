package migrate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/workmesh/workmesh/internal/config"
	"github.com/workmesh/workmesh/internal/pathresolve"
	"github.com/workmesh/workmesh/internal/sessions"
	"github.com/workmesh/workmesh/internal/truth"
	"github.com/workmesh/workmesh/internal/werr"
	"github.com/workmesh/workmesh/internal/wmcontext"
	"golang.org/x/mod/semver"
)

// ActionKey names one of the fixed migration actions.
type ActionKey string

const (
	LayoutBacklogToWorkmesh ActionKey = "layout_backlog_to_workmesh"
	FocusToContext          ActionKey = "focus_to_context"
	TruthBackfill           ActionKey = "truth_backfill"
	SessionHandoffEnrichment ActionKey = "session_handoff_enrichment"
	ConfigCleanup           ActionKey = "config_cleanup"
)

// allActions is the fixed order audit/plan consider findings in.
var allActions = []ActionKey{
	LayoutBacklogToWorkmesh, FocusToContext, TruthBackfill,
	SessionHandoffEnrichment, ConfigCleanup,
}

// Finding is one detected legacy condition, before it has been turned
// into concrete file-level operations.
type Finding struct {
	Action ActionKey
	Detail string
}

// Operation is one file-level step a plan proposes and apply carries
// out: a move, a rewrite, or a ledger/session append. ID is a random
// identifier minted at plan time, stable across Plan->Apply within a
// single pass, so a caller can correlate a logged operation with the
// finding it came from.
type Operation struct {
	ID          string
	Action      ActionKey
	Description string
	From        string
	To          string
}

// Deps bundles the components a migration pass may touch. Ledger and
// Sessions are optional (nil skips the actions that need them).
type Deps struct {
	FS                   afero.Fs
	Layout               pathresolve.Layout
	Config               config.Config
	ConfigPath           string
	Ledger               *truth.Ledger
	Sessions             *sessions.Store
	LegacyDecisionsPath  string // defaults to <root>/DECISIONS.md
	SessionHandoffScope  func(projectID, epicID string) []string // accepted truth ids for a session's scope
}

func (d Deps) decisionsPath() string {
	if d.LegacyDecisionsPath != "" {
		return d.LegacyDecisionsPath
	}
	return filepath.Join(d.Layout.Root, "DECISIONS.md")
}

// checkSchemaVersion refuses to plan a migration for a root whose
// declared schema_version is invalid or newer than this binary
// understands; an older or unset declared version is fine (that is
// exactly what a migration brings forward).
func checkSchemaVersion(cfg config.Config) error {
	if cfg.SchemaVersion == "" {
		return nil
	}
	if !semver.IsValid(cfg.SchemaVersion) {
		return werr.New(werr.ConfigError, "schema_version %q is not a valid semver", cfg.SchemaVersion)
	}
	if semver.Compare(cfg.SchemaVersion, config.CurrentSchemaVersion) > 0 {
		return werr.New(werr.ConfigError, "root declares schema_version %q, newer than this binary's %q",
			cfg.SchemaVersion, config.CurrentSchemaVersion)
	}
	return nil
}

// isSkipped reports whether do_not_migrate names action.
func isSkipped(cfg config.Config, action ActionKey) bool {
	for _, a := range cfg.DoNotMigrate {
		if ActionKey(a) == action {
			return true
		}
	}
	return false
}

// Audit detects which legacy conditions are present without touching
// the filesystem, skipping any action named in do_not_migrate.
func Audit(d Deps) ([]Finding, error) {
	var findings []Finding
	for _, action := range allActions {
		if isSkipped(d.Config, action) {
			continue
		}
		switch action {
		case LayoutBacklogToWorkmesh:
			for _, f := range auditLegacyLayout(d) {
				findings = append(findings, f)
			}
		case FocusToContext:
			if legacyFocusExists(d) {
				findings = append(findings, Finding{Action: FocusToContext,
					Detail: fmt.Sprintf("legacy context pointer at %s", pathresolve.LegacyContextPath(d.Layout))})
			}
		case TruthBackfill:
			if d.Ledger == nil {
				continue
			}
			if n := countLegacyDecisions(d); n > 0 {
				findings = append(findings, Finding{Action: TruthBackfill,
					Detail: fmt.Sprintf("%d legacy decision note(s) at %s", n, d.decisionsPath())})
			}
		case SessionHandoffEnrichment:
			for _, f := range auditSessionHandoff(d) {
				findings = append(findings, f)
			}
		case ConfigCleanup:
			if f, ok := auditConfigCleanup(d); ok {
				findings = append(findings, f)
			}
		}
	}
	return findings, nil
}

func auditLegacyLayout(d Deps) []Finding {
	var findings []Finding
	legacyDirs := []string{
		filepath.Join(d.Layout.Root, "backlog", "tasks"),
		filepath.Join(d.Layout.Root, "project", "tasks"),
		filepath.Join(d.Layout.Root, "tasks"),
		filepath.Join(d.Layout.Root, ".workmesh", "tasks"),
	}
	for _, dir := range legacyDirs {
		if dir == d.Layout.TasksDir {
			continue
		}
		info, err := d.FS.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		files, _ := afero.ReadDir(d.FS, dir)
		count := 0
		for _, f := range files {
			if strings.HasSuffix(f.Name(), ".md") {
				count++
			}
		}
		if count > 0 {
			findings = append(findings, Finding{Action: LayoutBacklogToWorkmesh,
				Detail: fmt.Sprintf("%d task file(s) under legacy directory %s", count, dir)})
		}
	}
	return findings
}

func legacyFocusExists(d Deps) bool {
	ok, _ := afero.Exists(d.FS, pathresolve.LegacyContextPath(d.Layout))
	return ok
}

func countLegacyDecisions(d Deps) int {
	entries, _ := parseLegacyDecisions(d.FS, d.decisionsPath())
	return len(entries)
}

func auditSessionHandoff(d Deps) []Finding {
	if d.Sessions == nil {
		return nil
	}
	snaps, err := d.Sessions.List()
	if err != nil {
		return nil
	}
	var findings []Finding
	for _, snap := range snaps {
		if len(snap.TruthRefs) == 0 && snap.ProjectID != "" {
			findings = append(findings, Finding{Action: SessionHandoffEnrichment,
				Detail: fmt.Sprintf("session %s has no truth_refs for project %s", snap.ID, snap.ProjectID)})
		}
	}
	return findings
}

func auditConfigCleanup(d Deps) (Finding, bool) {
	if d.ConfigPath == "" {
		return Finding{}, false
	}
	legacyPath := filepath.Join(filepath.Dir(d.ConfigPath), config.ProjectFileNameLegacy)
	if ok, _ := afero.Exists(d.FS, legacyPath); ok {
		return Finding{Action: ConfigCleanup, Detail: fmt.Sprintf("legacy config file %s should be renamed to %s", legacyPath, config.ProjectFileName)}, true
	}
	if hasDuplicateOrEmptyKeys(d.Config) {
		return Finding{Action: ConfigCleanup, Detail: "do_not_migrate or branch_initiatives has duplicate or empty entries"}, true
	}
	return Finding{}, false
}

func hasDuplicateOrEmptyKeys(cfg config.Config) bool {
	seen := make(map[string]bool, len(cfg.DoNotMigrate))
	for _, k := range cfg.DoNotMigrate {
		if k == "" || seen[k] {
			return true
		}
		seen[k] = true
	}
	for branch, code := range cfg.BranchInitiatives {
		if branch == "" || code == "" {
			return true
		}
	}
	return false
}

// Plan turns an Audit pass into a concrete, ordered list of file-level
// operations, without performing any of them. Apply is a separate,
// explicit step: Plan is a dry-run listing, apply requires an
// explicit confirmation.
func Plan(d Deps) ([]Operation, error) {
	if err := checkSchemaVersion(d.Config); err != nil {
		return nil, err
	}
	findings, err := Audit(d)
	if err != nil {
		return nil, err
	}

	var ops []Operation
	for _, f := range findings {
		switch f.Action {
		case LayoutBacklogToWorkmesh:
			legacyOps, err := planLayoutMove(d)
			if err != nil {
				return nil, err
			}
			ops = append(ops, legacyOps...)
		case FocusToContext:
			ops = append(ops, Operation{ID: uuid.NewString(), Action: FocusToContext,
				Description: "convert legacy focus.json into context.json",
				From:        pathresolve.LegacyContextPath(d.Layout), To: d.Layout.ContextPath})
		case TruthBackfill:
			ops = append(ops, Operation{ID: uuid.NewString(), Action: TruthBackfill,
				Description: "backfill legacy decision notes as proposed truth records",
				From:        d.decisionsPath(), To: filepath.Join(d.Layout.TruthDir, "events.jsonl")})
		case SessionHandoffEnrichment:
			ops = append(ops, Operation{ID: uuid.NewString(), Action: SessionHandoffEnrichment, Description: f.Detail})
		case ConfigCleanup:
			ops = append(ops, Operation{ID: uuid.NewString(), Action: ConfigCleanup, Description: f.Detail, To: d.ConfigPath})
		}
	}
	// de-duplicate layout moves vs the single descriptive finding
	// already folded in above; de-dup runs are idempotent by From.
	return dedupOps(ops), nil
}

func dedupOps(ops []Operation) []Operation {
	seen := make(map[string]bool, len(ops))
	var out []Operation
	for _, op := range ops {
		key := string(op.Action) + "|" + op.From + "|" + op.To
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, op)
	}
	return out
}

func planLayoutMove(d Deps) ([]Operation, error) {
	var ops []Operation
	legacyDirs := []string{
		filepath.Join(d.Layout.Root, "backlog", "tasks"),
		filepath.Join(d.Layout.Root, "project", "tasks"),
		filepath.Join(d.Layout.Root, "tasks"),
		filepath.Join(d.Layout.Root, ".workmesh", "tasks"),
	}
	for _, dir := range legacyDirs {
		if dir == d.Layout.TasksDir {
			continue
		}
		files, err := afero.ReadDir(d.FS, dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
				continue
			}
			from := filepath.Join(dir, f.Name())
			to := filepath.Join(d.Layout.TasksDir, f.Name())
			ops = append(ops, Operation{ID: uuid.NewString(), Action: LayoutBacklogToWorkmesh,
				Description: fmt.Sprintf("move %s to %s", from, to), From: from, To: to})
		}
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].From < ops[j].From })
	return ops, nil
}

// ApplyResult is the outcome of Apply: which operations actually ran,
// and where backups (if requested) were written.
type ApplyResult struct {
	Applied []Operation
	Backups map[string]string
}

// Apply carries out ops. confirm must be true (the caller's explicit
// confirmation gate); withBackup copies each legacy file an operation
// moves or removes (a legacy task file, focus.json, .workmeshrc) to a
// ".bak" sibling first. Files written at the destination (moved task
// files, context.json, the project config) are not backed up.
func Apply(d Deps, ops []Operation, confirm bool, withBackup bool) (ApplyResult, error) {
	if !confirm {
		return ApplyResult{}, werr.New(werr.ConfigError, "migrate apply requires explicit confirmation")
	}
	result := ApplyResult{Backups: map[string]string{}}

	for _, op := range ops {
		var err error
		switch op.Action {
		case LayoutBacklogToWorkmesh:
			err = applyLayoutMove(d, op, withBackup, &result)
		case FocusToContext:
			err = applyFocusToContext(d, op, withBackup, &result)
		case TruthBackfill:
			err = applyTruthBackfill(d, &result)
		case SessionHandoffEnrichment:
			err = applySessionHandoffEnrichment(d, &result)
		case ConfigCleanup:
			err = applyConfigCleanup(d, op, withBackup, &result)
		default:
			err = werr.New(werr.ConfigError, "unknown migration action %q", op.Action)
		}
		if err != nil {
			return result, err
		}
		result.Applied = append(result.Applied, op)
	}
	return result, nil
}

func backupFile(d Deps, path string, result *ApplyResult) error {
	ok, _ := afero.Exists(d.FS, path)
	if !ok {
		return nil
	}
	data, err := afero.ReadFile(d.FS, path)
	if err != nil {
		return werr.Wrap(werr.IOError, err, "reading %s for backup", path)
	}
	backup := path + ".bak"
	if err := afero.WriteFile(d.FS, backup, data, 0o644); err != nil {
		return werr.Wrap(werr.IOError, err, "writing backup %s", backup)
	}
	result.Backups[path] = backup
	return nil
}

func applyLayoutMove(d Deps, op Operation, withBackup bool, result *ApplyResult) error {
	if withBackup {
		if err := backupFile(d, op.From, result); err != nil {
			return err
		}
	}
	if err := d.FS.MkdirAll(filepath.Dir(op.To), 0o750); err != nil {
		return werr.Wrap(werr.IOError, err, "creating destination directory for %s", op.To)
	}
	if err := d.FS.Rename(op.From, op.To); err != nil {
		return werr.Wrap(werr.IOError, err, "moving %s to %s", op.From, op.To)
	}
	return nil
}

func applyFocusToContext(d Deps, op Operation, withBackup bool, result *ApplyResult) error {
	raw, err := afero.ReadFile(d.FS, op.From)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return werr.Wrap(werr.IOError, err, "reading legacy focus file")
	}
	// Legacy focus.json used "focus" instead of "project_id"/"epic_id";
	// tolerate both that shape and the current Context shape.
	var legacy struct {
		Focus      string   `json:"focus"`
		ProjectID  string   `json:"project_id"`
		EpicID     string   `json:"epic_id"`
		Objective  string   `json:"objective"`
		WorkingSet []string `json:"working_set"`
		Tasks      []string `json:"tasks"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return werr.Wrap(werr.ParseError, err, "parsing legacy focus file")
	}

	ctxStore := wmcontext.New(d.FS, op.To)
	epicID := legacy.EpicID
	if epicID == "" {
		epicID = legacy.Focus
	}
	tasks := legacy.WorkingSet
	if len(tasks) == 0 {
		tasks = legacy.Tasks
	}
	project, objective := legacy.ProjectID, legacy.Objective
	if _, err := ctxStore.Set(&project, &epicID, &objective, tasks); err != nil {
		return err
	}

	if withBackup {
		if err := backupFile(d, op.From, result); err != nil {
			return err
		}
	}
	return d.FS.Remove(op.From)
}

// legacyDecision is one heuristically-parsed entry from the legacy
// decisions file: a "## <feature>" heading followed by free-text
// statement lines, ended by the next heading or EOF.
type legacyDecision struct {
	Feature   string
	Statement string
}

func parseLegacyDecisions(fs afero.Fs, path string) ([]legacyDecision, error) {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, werr.Wrap(werr.IOError, err, "reading legacy decisions file")
	}
	defer f.Close()

	var entries []legacyDecision
	var cur *legacyDecision
	var body strings.Builder
	flush := func() {
		if cur != nil {
			cur.Statement = strings.TrimSpace(body.String())
			entries = append(entries, *cur)
		}
		body.Reset()
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "## ") {
			flush()
			cur = &legacyDecision{Feature: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
			continue
		}
		if cur != nil {
			body.WriteString(line)
			body.WriteString("\n")
		}
	}
	flush()
	return entries, scanner.Err()
}

func applyTruthBackfill(d Deps, result *ApplyResult) error {
	if d.Ledger == nil {
		return werr.New(werr.ConfigError, "truth_backfill requires a ledger")
	}
	entries, err := parseLegacyDecisions(d.FS, d.decisionsPath())
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if _, err := d.Ledger.Backfill("migrate", entry.Feature, entry.Statement); err != nil {
			return err
		}
	}
	return nil
}

func applySessionHandoffEnrichment(d Deps, result *ApplyResult) error {
	if d.Sessions == nil {
		return werr.New(werr.ConfigError, "session_handoff_enrichment requires a sessions store")
	}
	snaps, err := d.Sessions.List()
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		if len(snap.TruthRefs) != 0 || snap.ProjectID == "" || d.SessionHandoffScope == nil {
			continue
		}
		refs := d.SessionHandoffScope(snap.ProjectID, snap.EpicID)
		if len(refs) == 0 {
			continue
		}
		if _, err := d.Sessions.Save(sessions.SaveInput{
			Objective: snap.Objective, CWD: snap.CWD, RepoRoot: snap.RepoRoot,
			ProjectID: snap.ProjectID, EpicID: snap.EpicID, WorkingSet: snap.WorkingSet,
			Checkpoint: snap.Checkpoint, TruthRefs: refs,
		}); err != nil {
			return err
		}
	}
	return nil
}

func applyConfigCleanup(d Deps, op Operation, withBackup bool, result *ApplyResult) error {
	legacyPath := filepath.Join(filepath.Dir(d.ConfigPath), config.ProjectFileNameLegacy)
	if ok, _ := afero.Exists(d.FS, legacyPath); ok {
		if withBackup {
			if err := backupFile(d, legacyPath, result); err != nil {
				return err
			}
		}
		raw, err := afero.ReadFile(d.FS, legacyPath)
		if err != nil {
			return werr.Wrap(werr.IOError, err, "reading legacy config")
		}
		if err := afero.WriteFile(d.FS, d.ConfigPath, raw, 0o644); err != nil {
			return werr.Wrap(werr.IOError, err, "writing canonical config")
		}
		if err := d.FS.Remove(legacyPath); err != nil {
			return werr.Wrap(werr.IOError, err, "removing legacy config")
		}
	}

	cfg := d.Config
	cfg.DoNotMigrate = dedupNonEmpty(cfg.DoNotMigrate)
	cleaned := make(map[string]string, len(cfg.BranchInitiatives))
	for branch, code := range cfg.BranchInitiatives {
		if branch != "" && code != "" {
			cleaned[branch] = code
		}
	}
	cfg.BranchInitiatives = cleaned
	return config.Save(d.FS, d.ConfigPath, cfg)
}

func dedupNonEmpty(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
