// Package config loads and writes WorkMesh project and global config.
// Reading decodes the TOML file with BurntSushi/toml and then applies
// WORKMESH_* environment overrides via viper; writing is canonical
// and deterministic (via BurntSushi/toml directly against a typed
// struct), because branch_initiatives must round-trip byte stably for
// the ID Allocator's freeze semantics.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/workmesh/workmesh/internal/werr"
)

// ProjectFileName is the preferred project config file name.
const ProjectFileName = ".workmesh.toml"

// ProjectFileNameLegacy is tolerated on read only.
const ProjectFileNameLegacy = ".workmeshrc"

// GlobalFileName is the global config file name under WORKMESH_HOME.
const GlobalFileName = "config.toml"

// CurrentSchemaVersion is the on-disk layout/schema version this
// binary writes and expects; internal/migrate gates its audit/plan
// pass on a root's declared version against this one.
const CurrentSchemaVersion = "v1.0.0"

// Config holds the project and global configuration keys.
// BranchInitiatives maps a branch name to its frozen 4-letter
// initiative code.
type Config struct {
	DoNotMigrate       []string          `toml:"do_not_migrate"`
	RootDir            string            `toml:"root_dir,omitempty"`
	WorktreesDefault   bool              `toml:"worktrees_default"`
	AutoSessionDefault bool              `toml:"auto_session_default"`
	BranchInitiatives  map[string]string `toml:"branch_initiatives"`
	// ExternalProjects maps an external-project key (as referenced by a
	// task's external map) to the local filesystem path of that
	// project's own tasks directory, letting validate check that a
	// cross-repo reference resolves.
	ExternalProjects map[string]string `toml:"external_projects,omitempty"`
	// SchemaVersion is the on-disk layout/schema version this root was
	// last migrated to, a semver string gating migrate's audit/plan
	// pass against what this binary knows how to read.
	SchemaVersion string `toml:"schema_version,omitempty"`
}

// Default returns the baseline defaults: auto-session on in
// interactive non-CI contexts is the caller's responsibility to
// resolve (it depends on env/flags); the config default itself is on.
func Default() Config {
	return Config{
		WorktreesDefault:   false,
		AutoSessionDefault: true,
		BranchInitiatives:  map[string]string{},
		ExternalProjects:   map[string]string{},
		SchemaVersion:      CurrentSchemaVersion,
	}
}

// Load finds and reads the project config for root, applying env var
// overrides. If no config file exists, Default() is returned.
func Load(fs afero.Fs, root string) (Config, string, error) {
	cfg := Default()

	path := filepath.Join(root, ProjectFileName)
	legacyPath := filepath.Join(root, ProjectFileNameLegacy)
	usedPath := ""
	if exists(fs, path) {
		usedPath = path
	} else if exists(fs, legacyPath) {
		usedPath = legacyPath
	}

	if usedPath != "" {
		data, err := afero.ReadFile(fs, usedPath)
		if err != nil {
			return cfg, usedPath, werr.Wrap(werr.ConfigError, err, "reading %s", usedPath)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, usedPath, werr.Wrap(werr.ConfigError, err, "parsing %s", usedPath)
		}
	}
	if cfg.BranchInitiatives == nil {
		cfg.BranchInitiatives = map[string]string{}
	}
	if cfg.ExternalProjects == nil {
		cfg.ExternalProjects = map[string]string{}
	}

	applyEnvOverrides(&cfg, "WORKMESH")
	return cfg, usedPath, nil
}

// LoadGlobal reads $WORKMESH_HOME/config.toml, the global default
// counterpart to Load.
func LoadGlobal(fs afero.Fs, home string) (Config, error) {
	cfg := Default()
	path := filepath.Join(home, GlobalFileName)
	if !exists(fs, path) {
		applyEnvOverrides(&cfg, "WORKMESH")
		return cfg, nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, werr.Wrap(werr.ConfigError, err, "reading %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, werr.Wrap(werr.ConfigError, err, "parsing %s", path)
	}
	if cfg.BranchInitiatives == nil {
		cfg.BranchInitiatives = map[string]string{}
	}
	if cfg.ExternalProjects == nil {
		cfg.ExternalProjects = map[string]string{}
	}
	applyEnvOverrides(&cfg, "WORKMESH")
	return cfg, nil
}

// applyEnvOverrides binds WORKMESH_* environment variables over the
// config using viper's replacer/AutomaticEnv conventions (dashes and
// dots become underscores).
func applyEnvOverrides(cfg *Config, prefix string) {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if v.IsSet("auto_session") {
		cfg.AutoSessionDefault = v.GetString("auto_session") == "1"
	}
	if root := v.GetString("root_dir"); root != "" {
		cfg.RootDir = root
	}
}

// Save writes cfg to path canonically: sorted branch_initiatives keys,
// fixed field order, via BurntSushi/toml so the file is byte-stable
// across repeated saves with the same logical content.
func Save(fs afero.Fs, path string, cfg Config) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return werr.Wrap(werr.IOError, err, "creating config dir")
	}

	tmp := path + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return werr.Wrap(werr.IOError, err, "opening config temp file")
	}
	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		_ = f.Close()
		return werr.Wrap(werr.ConfigError, err, "encoding config")
	}
	if err := f.Close(); err != nil {
		return werr.Wrap(werr.IOError, err, "closing config temp file")
	}
	if err := fs.Rename(tmp, path); err != nil {
		return werr.Wrap(werr.IOError, err, "renaming config into place")
	}
	return nil
}

func exists(fs afero.Fs, path string) bool {
	ok, err := afero.Exists(fs, path)
	return err == nil && ok
}
