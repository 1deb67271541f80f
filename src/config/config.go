package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/mosaicnetworks/sectionnet/src/common"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultLevelDBFile is the default name of the folder containing the
	// LevelDB database
	DefaultLevelDBFile = "leveldb"

	// DefaultBoltFile is the default name of the BoltDB database file
	DefaultBoltFile = "section.db"
)

// Store types.
const (
	BadgerStore  = "badger"
	LevelDBStore = "leveldb"
	BoltStore    = "bolt"
)

// Default configuration values.
const (
	DefaultLogLevel                = "info"
	DefaultBindAddr                = "127.0.0.1:1337"
	DefaultServiceAddr             = "127.0.0.1:8000"
	DefaultTCPTimeout              = 1000 * time.Millisecond
	DefaultJoinTimeout             = 60 * time.Second
	DefaultMaxPool                 = 2
	DefaultElderCount              = 7
	DefaultMinAdultAge             = 5
	DefaultFirstSectionMaxAge      = 100
	DefaultFirstSectionRanged      = true
	DefaultRelocationRetries       = 3
	DefaultRelocationTimeout       = 60 * time.Second
	DefaultResourceProofDifficulty = 8
	DefaultPingTimeout             = 2 * time.Second
	DefaultDKGTimeout              = 30 * time.Second
	DefaultMaxConcurrentJoins      = 4
	DefaultTickInterval            = 1 * time.Second
	DefaultCacheSize               = 5000
	DefaultStore                   = false
	DefaultStoreType               = BadgerStore
)

// Config contains all the configuration properties of a section node.
type Config struct {
	// DataDir is the top-level directory containing the node's keys, contacts
	// file and database
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of every log entry.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node listens. Use
	// AdvertiseAddr when it is not routable.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is the address other nodes reach this one at.
	AdvertiseAddr string `mapstructure:"advertise"`

	// NoService disables the HTTP status service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP status service.
	ServiceAddr string `mapstructure:"service-listen"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the I/O deadline of transport connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// JoinTimeout is how long a joining node waits to be approved.
	JoinTimeout time.Duration `mapstructure:"join-timeout"`

	// ElderCount is the target size of a section's elder set.
	ElderCount int `mapstructure:"elder-count"`

	// MinAdultAge is the age new nodes join at.
	MinAdultAge uint8 `mapstructure:"min-adult-age"`

	// FirstSectionMaxAge is the age of the first node to join the genesis
	// section when FirstSectionRanged is set.
	FirstSectionMaxAge uint8 `mapstructure:"first-section-max-age"`

	// FirstSectionRanged gives the genesis section's joiners decreasing ages.
	FirstSectionRanged bool `mapstructure:"first-section-ranged"`

	// RelocationMinSectionSize is the member count below which nobody is
	// relocated. Zero means twice the elder count.
	RelocationMinSectionSize int `mapstructure:"relocation-min-section-size"`

	// RelocationRetries is the number of times a relocating node retries a
	// step before giving up.
	RelocationRetries int `mapstructure:"relocation-retries"`

	// RelocationTimeout is how long each relocation step may take.
	RelocationTimeout time.Duration `mapstructure:"relocation-timeout"`

	// ResourceProofDifficulty is the number of leading zero bits asked of
	// joining nodes.
	ResourceProofDifficulty uint8 `mapstructure:"resource-proof-difficulty"`

	// PingTimeout bounds the reachability check of a joining node.
	PingTimeout time.Duration `mapstructure:"ping-timeout"`

	// DKGTimeout is how long a key generation session may run before its
	// participants report failure.
	DKGTimeout time.Duration `mapstructure:"dkg-timeout"`

	// MaxConcurrentJoins bounds the joins an elder handles at once.
	MaxConcurrentJoins int `mapstructure:"max-concurrent-joins"`

	// TickInterval is the period of the node's timers.
	TickInterval time.Duration `mapstructure:"tick"`

	// Store activates persistent storage.
	Store bool `mapstructure:"store"`

	// StoreType is badger, leveldb or bolt.
	StoreType string `mapstructure:"store-type"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// CacheSize is the max number of items in in-memory caches.
	CacheSize int `mapstructure:"cache-size"`

	// Bootstrap loads the section knowledge from an existing database. Forces
	// Store.
	Bootstrap bool `mapstructure:"bootstrap"`

	// Genesis starts a new network with this node as its first elder.
	Genesis bool `mapstructure:"genesis"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:                 DefaultDataDir(),
		LogLevel:                DefaultLogLevel,
		BindAddr:                DefaultBindAddr,
		ServiceAddr:             DefaultServiceAddr,
		MaxPool:                 DefaultMaxPool,
		TCPTimeout:              DefaultTCPTimeout,
		JoinTimeout:             DefaultJoinTimeout,
		ElderCount:              DefaultElderCount,
		MinAdultAge:             DefaultMinAdultAge,
		FirstSectionMaxAge:      DefaultFirstSectionMaxAge,
		FirstSectionRanged:      DefaultFirstSectionRanged,
		RelocationRetries:       DefaultRelocationRetries,
		RelocationTimeout:       DefaultRelocationTimeout,
		ResourceProofDifficulty: DefaultResourceProofDifficulty,
		PingTimeout:             DefaultPingTimeout,
		DKGTimeout:              DefaultDKGTimeout,
		MaxConcurrentJoins:      DefaultMaxConcurrentJoins,
		TickInterval:            DefaultTickInterval,
		CacheSize:               DefaultCacheSize,
		Store:                   DefaultStore,
		StoreType:               DefaultStoreType,
		DatabaseDir:             DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object suited to fast in-memory tests: small
// sections, flat ages, trivial resource proofs and a logger that writes
// through t.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.ElderCount = 4
	config.MinAdultAge = 1
	config.FirstSectionRanged = false
	config.ResourceProofDifficulty = 2
	config.PingTimeout = 200 * time.Millisecond
	config.TickInterval = 10 * time.Millisecond
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, c.databaseFile())
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// RecommendedSectionSize is the member count from which relocations start.
func (c *Config) RecommendedSectionSize() int {
	if c.RelocationMinSectionSize > 0 {
		return c.RelocationMinSectionSize
	}
	return 2 * c.ElderCount
}

// Logger returns a formatted logrus Entry, with prefix set to "sectionnet".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(c.LogFile, &logrus.JSONFormatter{}))
		}
	}
	return c.logger.WithField("prefix", "sectionnet")
}

func (c *Config) databaseFile() string {
	switch c.StoreType {
	case LevelDBStore:
		return DefaultLevelDBFile
	case BoltStore:
		return DefaultBoltFile
	default:
		return DefaultBadgerFile
	}
}

// DefaultDatabaseDir returns the default path for the database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".SectionNet")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "SectionNet")
		} else {
			return filepath.Join(home, ".sectionnet")
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
