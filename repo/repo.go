package repo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	rootPathEnvVar = "COUNCIL_PATH"

	envPrefix = "COUNCIL"

	cfgFileName = "council.toml"

	defaultRepoRoot = "~/.council"

	LogsDirName = "logs"

	StorageLevelDB = "leveldb"
	StorageJSON    = "json"
)

type Repo struct {
	Config *Config
}

// Exist check if the file with the given path exits.
func Exist(path string) bool {
	fi, err := os.Lstat(path)
	if fi != nil || (err != nil && !os.IsNotExist(err)) {
		return true
	}

	return false
}

func Load(repoRoot string) (*Repo, error) {
	rootPath, err := LoadRepoRootFromEnv(repoRoot)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig(rootPath)

	cfgPath := filepath.Join(rootPath, cfgFileName)
	if !Exist(cfgPath) {
		if err := os.MkdirAll(rootPath, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to build default config")
		}

		if err := writeConfigWithEnv(cfgPath, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to build default config")
		}
	} else {
		if err := CheckWritable(rootPath); err != nil {
			return nil, err
		}
		if err = readConfigFromFile(cfgPath, cfg); err != nil {
			return nil, err
		}
	}
	cfg.RepoRoot = rootPath

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", cfgPath)
	}

	return &Repo{
		Config: cfg,
	}, nil
}

func (r *Repo) Flush() error {
	if err := writeConfigWithEnv(filepath.Join(r.Config.RepoRoot, cfgFileName), r.Config); err != nil {
		return errors.Wrap(err, "failed to write config")
	}

	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case StorageLevelDB, StorageJSON:
	default:
		return fmt.Errorf("storage.type must be %q or %q, got %q", StorageLevelDB, StorageJSON, c.Storage.Type)
	}
	if c.Vote.DefaultWindow <= 0 {
		return errors.New("vote.default_window must be positive")
	}
	if c.Vote.DraftTTL <= 0 || c.Vote.SelectionTTL <= 0 {
		return errors.New("vote.draft_ttl and vote.selection_ttl must be positive")
	}
	if c.Vote.FallbackQuorum < 0 || c.Vote.FallbackQuorum > 1 {
		return fmt.Errorf("vote.fallback_quorum must be within [0, 1], got %v", c.Vote.FallbackQuorum)
	}
	if c.Vote.MaxCandidates <= 0 {
		return errors.New("vote.max_candidates must be positive")
	}
	if c.XP.MinMult <= 0 || c.XP.MaxMult < c.XP.MinMult {
		return fmt.Errorf("xp multipliers must satisfy 0 < min_mult <= max_mult, got %v and %v", c.XP.MinMult, c.XP.MaxMult)
	}
	if c.Scheduler.TickInterval <= 0 || c.Scheduler.CleanupInterval <= 0 {
		return errors.New("scheduler intervals must be positive")
	}
	return nil
}

// StoragePath resolves the storage path against the repo root.
func (c *Config) StoragePath() string {
	p := c.Storage.Path
	if p == "" {
		p = "data"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.RepoRoot, p)
}

func writeConfigWithEnv(cfgPath string, config any) error {
	if err := writeConfig(cfgPath, config); err != nil {
		return err
	}
	// write back environment variables first
	if err := readConfigFromFile(cfgPath, config); err != nil {
		return errors.Wrapf(err, "failed to read cfg from environment")
	}
	if err := writeConfig(cfgPath, config); err != nil {
		return err
	}
	return nil
}

func writeConfig(cfgPath string, config any) error {
	raw, err := MarshalConfig(config)
	if err != nil {
		return err
	}

	if err := os.WriteFile(cfgPath, []byte(raw), 0644); err != nil {
		return err
	}

	return nil
}

func MarshalConfig(config any) (string, error) {
	buf := bytes.NewBuffer([]byte{})
	e := toml.NewEncoder(buf)
	e.SetIndentTables(true)
	e.SetArraysMultiline(true)
	err := e.Encode(config)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func LoadRepoRootFromEnv(repoRoot string) (string, error) {
	if repoRoot != "" {
		return repoRoot, nil
	}
	repoRoot = os.Getenv(rootPathEnvVar)
	var err error
	if len(repoRoot) == 0 {
		repoRoot, err = homedir.Expand(defaultRepoRoot)
	}
	return repoRoot, err
}

func readConfigFromFile(cfgFilePath string, config any) error {
	vp := viper.New()
	vp.SetConfigFile(cfgFilePath)
	vp.SetConfigType("toml")
	return readConfig(vp, config)
}

func readConfig(vp *viper.Viper, config any) error {
	vp.AutomaticEnv()
	vp.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	vp.SetEnvKeyReplacer(replacer)

	err := vp.ReadInConfig()
	if err != nil {
		return err
	}

	if err := vp.Unmarshal(config); err != nil {
		return err
	}

	return nil
}

func CheckWritable(dir string) error {
	_, err := os.Stat(dir)
	if err == nil {
		// dir exists, make sure we can write to it
		testfile := filepath.Join(dir, "test")
		fi, err := os.Create(testfile)
		if err != nil {
			if os.IsPermission(err) {
				return fmt.Errorf("%s is not writeable by the current user", dir)
			}
			return fmt.Errorf("unexpected error while checking writeablility of repo root: %s", err)
		}
		fi.Close()
		return os.Remove(testfile)
	}

	if os.IsNotExist(err) {
		// dir doesn't exist, check that we can create it
		return os.Mkdir(dir, 0775)
	}

	if os.IsPermission(err) {
		return fmt.Errorf("cannot write to %s, incorrect permissions", err)
	}

	return err
}
