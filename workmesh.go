// Package workmesh is the public facade over the WorkMesh core: a
// git-native, plain-text task and decision tracker. It wires together
// the Path Resolver, ID Allocator, Task Store, Task Index, Audit Log,
// Relationship & Readiness Engine, Context Pointer, Truth Ledger,
// Global Sessions Store, Worktree Registry, and Migration/Validation
// surfaces behind one entry point, so a caller never has to know the
// wiring between them.
//
// Mesh owns no network or process state: every method except WithLock
// reads or writes through the injected afero.Fs, so a caller can run
// entirely against an in-memory filesystem in tests. WithLock takes its
// flock lock file on the real filesystem.
package workmesh

import (
	"context"
	"time"

	"github.com/spf13/afero"
	"github.com/workmesh/workmesh/internal/auditlog"
	"github.com/workmesh/workmesh/internal/clockx"
	"github.com/workmesh/workmesh/internal/config"
	"github.com/workmesh/workmesh/internal/diag"
	"github.com/workmesh/workmesh/internal/idalloc"
	"github.com/workmesh/workmesh/internal/lockfile"
	"github.com/workmesh/workmesh/internal/migrate"
	"github.com/workmesh/workmesh/internal/pathresolve"
	"github.com/workmesh/workmesh/internal/readiness"
	"github.com/workmesh/workmesh/internal/sessions"
	"github.com/workmesh/workmesh/internal/task"
	"github.com/workmesh/workmesh/internal/taskindex"
	"github.com/workmesh/workmesh/internal/truth"
	"github.com/workmesh/workmesh/internal/vcs"
	"github.com/workmesh/workmesh/internal/werr"
	"github.com/workmesh/workmesh/internal/wmcontext"
	"github.com/workmesh/workmesh/internal/worktree"
)

// Re-exported so callers never have to import internal/task directly
// for the common shapes.
type (
	Task            = task.Task
	AddFields       = task.AddFields
	BulkResult      = task.BulkResult
	MutationEvent   = task.MutationEvent
	Comment         = task.Comment
	Relationships   = task.Relationships
	Config          = config.Config
	Context         = wmcontext.Context
	Truth           = truth.Truth
	Snapshot        = sessions.Snapshot
	SaveInput       = sessions.SaveInput
	ResumePlan      = sessions.ResumePlan
	Binding         = worktree.Binding
	Layout          = pathresolve.Layout
	ValidateReport  = migrate.Report
	MigrateFinding  = migrate.Finding
	MigrateOp       = migrate.Operation
	ApplyResult     = migrate.ApplyResult
	Mapping         = migrate.Mapping
	RekeyFinding    = migrate.RekeyFinding
	Lane            = readiness.Lane
	Blocker         = readiness.Blocker
)

// Mesh is the root handle onto one repo's WorkMesh store: every C1-C12
// component for that root, constructed once and reused across
// operations.
type Mesh struct {
	fs    afero.Fs
	clock clockx.Clock
	sink  diag.Sink
	vcs   vcs.VCS

	Root   string
	Layout pathresolve.Layout
	Config config.Config

	Store   *task.Store
	Index   *taskindex.Index
	Audit   *auditlog.Log
	Context *wmcontext.Store
	Truth   *truth.Ledger
	Worktree *worktree.Registry
	Lock    *lockfile.Lock

	autoSession bool
	sessions    *sessions.Store
}

// Options configures Open.
type Options struct {
	FS    afero.Fs // defaults to afero.NewOsFs()
	Clock clockx.Clock // defaults to clockx.System{}
	Sink  diag.Sink // defaults to diag.NewStderr()
	VCS   vcs.VCS // defaults to vcs.Git{}

	// SessionsDir overrides the global sessions directory (normally
	// $WORKMESH_HOME/sessions). Leave empty to resolve it lazily from
	// the environment the first time a session operation runs.
	SessionsDir string
}

// Open resolves root's on-disk layout and project config and wires up
// every core component against it. It performs no I/O beyond reading
// the config file and probing for an existing tasks directory.
func Open(root string, opts Options) (*Mesh, error) {
	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockx.System{}
	}
	sink := opts.Sink
	if sink == nil {
		sink = diag.NewStderr()
	}
	v := opts.VCS
	if v == nil {
		v = vcs.Git{}
	}

	layout := pathresolve.Resolve(fs, root)
	cfg, _, err := config.Load(fs, root)
	if err != nil {
		return nil, err
	}

	store := task.New(fs, layout.TasksDir, clock, sink)
	store.SetArchiveDir(layout.ArchiveDir)

	m := &Mesh{
		fs:          fs,
		clock:       clock,
		sink:        sink,
		vcs:         v,
		Root:        root,
		Layout:      layout,
		Config:      cfg,
		Store:       store,
		Index:       taskindex.New(fs, layout.IndexDir, layout.TasksDir, sink),
		Audit:       auditlog.New(fs, layout.AuditLogPath, clock, sink),
		Context:     wmcontext.New(fs, layout.ContextPath),
		Truth:       truth.New(fs, layout.TruthDir, clock),
		Worktree:    worktree.New(fs, layout.WorktreesPath, v),
		Lock:        lockfile.New(layout.LockPath),
		autoSession: cfg.AutoSessionDefault,
	}

	if opts.SessionsDir != "" {
		m.sessions = sessions.New(fs, opts.SessionsDir, clock, v)
	}

	store.OnMutate = m.onMutate
	return m, nil
}

// Sessions lazily resolves the global sessions store under
// $WORKMESH_HOME the first time it is needed, so Open never has to
// touch the environment unless a caller actually saves or resumes a
// session.
func (m *Mesh) Sessions() (*sessions.Store, error) {
	if m.sessions != nil {
		return m.sessions, nil
	}
	home, err := pathresolve.GlobalHome()
	if err != nil {
		return nil, werr.Wrap(werr.IOError, err, "resolving WORKMESH_HOME")
	}
	m.sessions = sessions.New(m.fs, home+"/sessions", m.clock, m.vcs)
	return m.sessions, nil
}

// onMutate fans a single Task Store mutation out to every best-effort
// downstream reactor: audit log, task index, and context
// auto-maintenance. None of these can fail the originating operation;
// failures only ever reach the diagnostics sink.
func (m *Mesh) onMutate(event task.MutationEvent) {
	beforeID, beforeUID := "", ""
	if event.Before != nil {
		beforeID, beforeUID = event.Before.ID, event.Before.UID
	}
	after := ""
	afterID, afterUID := beforeID, beforeUID
	if event.After != nil {
		afterID, afterUID = event.After.ID, event.After.UID
		if raw, err := event.After.Serialize(); err == nil {
			after = string(raw)
		}
	}
	before := ""
	if event.Before != nil {
		if raw, err := event.Before.Serialize(); err == nil {
			before = string(raw)
		}
	}
	id := afterID
	if id == "" {
		id = beforeID
	}
	uid := afterUID
	if uid == "" {
		uid = beforeUID
	}
	m.Audit.Append(event.Action, id, uid, before, after)

	if err := m.Index.Refresh(m.Store); err != nil {
		m.sink.Warn("taskindex", "refresh after mutation failed", map[string]any{"task": id, "error": err.Error()})
	}

	m.Context.OnMutate(event, func(epicID string) bool {
		epic, err := m.Store.FindByID(epicID)
		if err != nil {
			return false
		}
		all, _ := m.Store.LoadAll()
		return task.EpicComplete(epic, all)
	})

	if m.autoSession && (event.Action == "claim" || event.Action == "set_status") {
		m.autoSaveSession(id)
	}
}

// autoSaveSession best-effort snapshots the current context into the
// global sessions store after a claim or status change, so a resumed
// session always reflects the task last touched rather than only what
// a caller explicitly saved.
func (m *Mesh) autoSaveSession(taskID string) {
	ctx, err := m.Context.Show()
	if err != nil {
		m.sink.Warn("sessions", "auto-save read context failed", map[string]any{"task": taskID, "error": err.Error()})
		return
	}
	sess, err := m.Sessions()
	if err != nil {
		m.sink.Warn("sessions", "auto-save resolve store failed", map[string]any{"task": taskID, "error": err.Error()})
		return
	}
	branch, _ := m.vcs.CurrentBranch(m.Root)
	if _, err := sess.Save(SaveInput{
		RepoRoot:   m.Root,
		ProjectID:  ctx.ProjectID,
		EpicID:     ctx.EpicID,
		WorkingSet: ctx.WorkingSet,
		Checkpoint: "auto: " + taskID,
	}); err != nil {
		m.sink.Warn("sessions", "auto-save failed", map[string]any{"task": taskID, "branch": branch, "error": err.Error()})
	}
}

// WithLock runs fn while holding the per-root mutation lock, the
// serialization point named for every command that writes to the
// store. Read-only operations (Next, Board, Blockers, Validate) do not
// need it.
func (m *Mesh) WithLock(timeout time.Duration, fn func() error) error {
	release, err := m.Lock.Acquire(timeout)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// CreateTask allocates a ULID and a task-<init>-NNN id (deriving and,
// if new, freezing the branch's initiative code), then adds the task
// to the store. It does not itself take the root lock; callers doing
// unattended, concurrent creation should wrap the call in WithLock.
func (m *Mesh) CreateTask(branch string, f AddFields) (*Task, error) {
	all, _ := m.Store.LoadAll()
	used := make(map[int]bool, len(all))
	init := idalloc.DeriveInitiative(branch, m.Config.BranchInitiatives)
	for _, t := range all {
		if i, n, ok := idalloc.ParseID(t.ID); ok && i == init {
			used[n] = true
		}
	}
	if f.ID == "" {
		id := idalloc.FormatID(init, idalloc.NextNumber(used))
		f.ID = id
	}
	if f.UID == "" {
		uid, err := idalloc.NewULID(m.clock.Now())
		if err != nil {
			return nil, err
		}
		f.UID = uid
	}
	if m.Config.BranchInitiatives == nil {
		m.Config.BranchInitiatives = map[string]string{}
	}
	if _, frozen := m.Config.BranchInitiatives[branch]; !frozen && branch != "" {
		m.Config.BranchInitiatives[branch] = init
		if err := config.Save(m.fs, m.Layout.ConfigPath, m.Config); err != nil {
			m.sink.Warn("config", "freezing branch initiative failed", map[string]any{"branch": branch, "error": err.Error()})
		}
	}
	return m.Store.Add(f)
}

// LoadAll returns every task in the store, skipping unparseable files
// into the returned error slice rather than failing the whole load.
func (m *Mesh) LoadAll() ([]*Task, []error) { return m.Store.LoadAll() }

// Next returns the single highest-priority ready task for owner, or
// nil if none is ready.
func (m *Mesh) Next(owner string) (*Task, error) {
	all, errs := m.Store.LoadAll()
	if len(errs) > 0 {
		return nil, errs[0]
	}
	ctx, err := m.Context.Show()
	if err != nil {
		return nil, err
	}
	return readiness.Next(all, ctx, owner, m.clock.Now()), nil
}

// NextTasks returns up to limit ready tasks in deterministic order.
func (m *Mesh) NextTasks(owner string, limit int) ([]*Task, error) {
	all, errs := m.Store.LoadAll()
	if len(errs) > 0 {
		return nil, errs[0]
	}
	ctx, err := m.Context.Show()
	if err != nil {
		return nil, err
	}
	return readiness.NextTasks(all, ctx, owner, m.clock.Now(), limit), nil
}

// Blockers enumerates unmet-blocker entries, optionally scoped to an
// epic's subtree.
func (m *Mesh) Blockers(scopeEpicID string) ([]Blocker, error) {
	all, errs := m.Store.LoadAll()
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return readiness.Blockers(all, scopeEpicID), nil
}

// Board groups every task into lanes by field ("status", "phase", or
// "priority"), optionally focused to the current working set.
func (m *Mesh) Board(field string, focus bool) ([]Lane, error) {
	all, errs := m.Store.LoadAll()
	if len(errs) > 0 {
		return nil, errs[0]
	}
	var ctxPtr *wmcontext.Context
	if focus {
		ctx, err := m.Context.Show()
		if err != nil {
			return nil, err
		}
		ctxPtr = &ctx
	}
	return readiness.Board(all, field, ctxPtr), nil
}

// Stale lists In Progress tasks idle longer than threshold.
func (m *Mesh) Stale(threshold time.Duration) ([]*Task, error) {
	all, errs := m.Store.LoadAll()
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return readiness.Stale(all, threshold, m.clock.Now()), nil
}

// Validate runs the full read-only integrity report over the store,
// task index, and truth ledger.
func (m *Mesh) Validate() (ValidateReport, error) {
	return migrate.Validate(m.fs, m.Layout, m.Config, m.Store, m.Index, m.Truth)
}

// migrateDeps builds the migrate.Deps bundle shared by Audit, Plan,
// and Apply, so callers of those three don't each have to assemble it.
func (m *Mesh) migrateDeps() (migrate.Deps, error) {
	sess, err := m.Sessions()
	if err != nil {
		sess = nil
	}
	return migrate.Deps{
		FS:         m.fs,
		Layout:     m.Layout,
		Config:     m.Config,
		ConfigPath: m.Layout.ConfigPath,
		Ledger:     m.Truth,
		Sessions:   sess,
	}, nil
}

// AuditLegacy detects legacy-layout and stale-config conditions that a
// migration pass could resolve.
func (m *Mesh) AuditLegacy() ([]MigrateFinding, error) {
	deps, err := m.migrateDeps()
	if err != nil {
		return nil, err
	}
	return migrate.Audit(deps)
}

// PlanLegacy turns AuditLegacy's findings into concrete file-level
// operations, without touching disk.
func (m *Mesh) PlanLegacy() ([]MigrateOp, error) {
	deps, err := m.migrateDeps()
	if err != nil {
		return nil, err
	}
	return migrate.Plan(deps)
}

// ApplyLegacy carries out a previously planned set of operations.
func (m *Mesh) ApplyLegacy(ops []MigrateOp, confirm, withBackup bool) (ApplyResult, error) {
	deps, err := m.migrateDeps()
	if err != nil {
		return ApplyResult{}, err
	}
	return migrate.Apply(deps, ops, confirm, withBackup)
}

// RekeyPrompt renders the dependency graph for an external rekey tool
// (or human) to annotate with an old-id-to-new-id mapping.
func (m *Mesh) RekeyPrompt() (string, error) {
	all, errs := m.Store.LoadAll()
	if len(errs) > 0 {
		return "", errs[0]
	}
	return migrate.RekeyPrompt(all)
}

// RekeyApply rewrites every task touched by mapping: structured
// fields exactly, body mentions best-effort unless strict.
func (m *Mesh) RekeyApply(mapping Mapping, strict bool) ([]RekeyFinding, error) {
	return migrate.RekeyApply(m.Store, mapping, strict)
}

// Doctor runs the Worktree Registry's binding diagnostics against the
// Global Sessions Store's known ids.
func (m *Mesh) Doctor() ([]worktree.Issue, error) {
	sess, err := m.Sessions()
	if err != nil {
		return nil, err
	}
	return m.Worktree.Doctor(func(id string) bool {
		_, err := sess.Show(id)
		return err == nil
	})
}

// SaveSession saves a new session snapshot to the global store,
// folding in the current project/epic/working-set context when the
// caller leaves those fields empty.
func (m *Mesh) SaveSession(in SaveInput) (*Snapshot, error) {
	sess, err := m.Sessions()
	if err != nil {
		return nil, err
	}
	if in.ProjectID == "" || in.EpicID == "" || in.WorkingSet == nil {
		ctx, err := m.Context.Show()
		if err == nil {
			if in.ProjectID == "" {
				in.ProjectID = ctx.ProjectID
			}
			if in.EpicID == "" {
				in.EpicID = ctx.EpicID
			}
			if in.WorkingSet == nil {
				in.WorkingSet = ctx.WorkingSet
			}
		}
	}
	if in.RepoRoot == "" {
		in.RepoRoot = m.Root
	}
	return sess.Save(in)
}

// ResumeSession returns the resume plan for id, or the current
// session if id is empty.
func (m *Mesh) ResumeSession(id string) (*ResumePlan, error) {
	sess, err := m.Sessions()
	if err != nil {
		return nil, err
	}
	return sess.Resume(id)
}

// ProposeTruth records a new proposed truth statement.
func (m *Mesh) ProposeTruth(actor, feature, statement, projectID, epicID, sessionID, worktreePath string, tags []string) (string, error) {
	var worktreeID string
	if worktreePath != "" {
		if b, err := m.worktreeBindingFor(worktreePath); err == nil {
			worktreeID = b.ID
		}
	}
	return m.Truth.Propose(actor, feature, statement, projectID, epicID, sessionID, worktreeID, worktreePath, tags)
}

func (m *Mesh) worktreeBindingFor(path string) (Binding, error) {
	bindings, err := m.Worktree.List()
	if err != nil {
		return Binding{}, err
	}
	for _, b := range bindings {
		if b.Path == path {
			return b, nil
		}
	}
	return Binding{}, werr.New(werr.NotFound, "no worktree binding for %s", path)
}

// RebuildIndex discards and recomputes the task index from the store.
func (m *Mesh) RebuildIndex(ctx context.Context) error {
	return m.Index.Rebuild(ctx, m.Store)
}
