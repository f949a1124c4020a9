package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/attestnetworks/factum/src/common"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing an agent's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel           = "debug"
	DefaultServiceAddr        = "127.0.0.1:8000"
	DefaultCacheSize          = 10000
	DefaultStore              = false
	DefaultScopeLockTimeout   = 500 * time.Millisecond
	DefaultAppendRetries      = 3
	DefaultAppendBackoff      = 50 * time.Millisecond
	DefaultDedup              = true
	DefaultCheckpointSize     = 100
	DefaultCheckpointInterval = 60 * time.Second
	DefaultQuorum             = 2
	DefaultVerifyThreshold    = 0.70
	DefaultRejectThreshold    = 0.40
	DefaultReputationFloor    = 0.10
	DefaultInitialReputation  = 0.50
	DefaultReputationAlpha    = 0.20
)

// Config contains all the configuration properties of a Factum node.
type Config struct {
	// DataDir is the top-level directory containing Factum configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, mirrors all log output to a file via a logrus hook.
	LogFile string `mapstructure:"log-file"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP service. The API handlers
	// are registered with the DefaultServerMux of the http package, so another
	// server in the same process can expose them on its own endpoint.
	ServiceAddr string `mapstructure:"service-listen"`

	// Store activates persistent storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Bootstrap determines whether to load Factum from an existing database.
	// Forces Store.
	Bootstrap bool `mapstructure:"bootstrap"`

	// CacheSize is the max number of items in in-memory caches.
	CacheSize int `mapstructure:"cache-size"`

	// ScopeLockTimeout is how long an append waits for a scope's write lock
	// before failing with a retryable timeout.
	ScopeLockTimeout time.Duration `mapstructure:"scope-lock-timeout"`

	// AppendRetries is how many times a timed-out append is retried before
	// the error surfaces to the caller.
	AppendRetries int `mapstructure:"append-retries"`

	// AppendBackoff is the initial wait between append retries; it doubles on
	// every attempt.
	AppendBackoff time.Duration `mapstructure:"append-backoff"`

	// Dedup enables rejection of facts whose content is identical to an
	// existing fact in the same scope.
	Dedup bool `mapstructure:"dedup"`

	// CheckpointSize is the number of unsealed facts that triggers a
	// checkpoint.
	CheckpointSize int `mapstructure:"checkpoint-size"`

	// CheckpointInterval is the maximum time a scope with pending facts goes
	// without a checkpoint.
	CheckpointInterval time.Duration `mapstructure:"checkpoint-interval"`

	// Quorum is the minimum number of distinct voting agents before a fact
	// can leave the pending status.
	Quorum int `mapstructure:"quorum"`

	// VerifyThreshold is the weighted approval score at or above which a fact
	// is verified.
	VerifyThreshold float64 `mapstructure:"verify-threshold"`

	// RejectThreshold is the weighted approval score below which a fact is
	// rejected.
	RejectThreshold float64 `mapstructure:"reject-threshold"`

	// ReputationFloor is the minimum reputation weight. No agent's weight
	// ever falls below it.
	ReputationFloor float64 `mapstructure:"reputation-floor"`

	// InitialReputation is the weight assigned to newly registered agents.
	InitialReputation float64 `mapstructure:"initial-reputation"`

	// ReputationAlpha is the exponential smoothing factor applied on every
	// reputation adjustment.
	ReputationAlpha float64 `mapstructure:"reputation-alpha"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:            DefaultDataDir(),
		LogLevel:           DefaultLogLevel,
		ServiceAddr:        DefaultServiceAddr,
		Store:              DefaultStore,
		DatabaseDir:        DefaultDatabaseDir(),
		CacheSize:          DefaultCacheSize,
		ScopeLockTimeout:   DefaultScopeLockTimeout,
		AppendRetries:      DefaultAppendRetries,
		AppendBackoff:      DefaultAppendBackoff,
		Dedup:              DefaultDedup,
		CheckpointSize:     DefaultCheckpointSize,
		CheckpointInterval: DefaultCheckpointInterval,
		Quorum:             DefaultQuorum,
		VerifyThreshold:    DefaultVerifyThreshold,
		RejectThreshold:    DefaultRejectThreshold,
		ReputationFloor:    DefaultReputationFloor,
		InitialReputation:  DefaultInitialReputation,
		ReputationAlpha:    DefaultReputationAlpha,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level Factum directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// Logger returns a formatted logrus Entry, with prefix set to "factum".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			if _, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY, 0666); err != nil {
				c.logger.WithError(err).Info("Failed to open log file, using default stderr")
			} else {
				pathMap := lfshook.PathMap{}
				for _, level := range logrus.AllLevels {
					if level <= c.logger.Level {
						pathMap[level] = c.LogFile
					}
				}
				c.logger.Hooks.Add(lfshook.NewHook(pathMap, &logrus.TextFormatter{}))
			}
		}
	}
	return c.logger.WithField("prefix", "factum")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level Factum
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Factum")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Factum")
		} else {
			return filepath.Join(home, ".factum")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
