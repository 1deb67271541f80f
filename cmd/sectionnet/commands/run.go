package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mosaicnetworks/sectionnet/src/sectionnet"
)

//NewRunCmd returns the command that starts a section node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runSectionNet,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runSectionNet(cmd *cobra.Command, args []string) error {
	engine := sectionnet.NewSectionNet(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Also write JSON log entries to this file")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for the node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for the node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().DurationP("join-timeout", "j", _config.JoinTimeout, "Join Timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")
	cmd.Flags().Duration("ping-timeout", _config.PingTimeout, "Reachability check timeout for joining nodes")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use a database instead of in-mem store")
	cmd.Flags().String("store-type", _config.StoreType, "badger, leveldb or bolt")
	cmd.Flags().String("db", _config.DatabaseDir, "Dabatabase directory")
	cmd.Flags().Bool("bootstrap", _config.Bootstrap, "Load from database")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of items in LRU caches")

	// Section
	cmd.Flags().Bool("genesis", _config.Genesis, "Start a new network")
	cmd.Flags().Int("elder-count", _config.ElderCount, "Number of elders of a section")
	cmd.Flags().Uint8("min-adult-age", _config.MinAdultAge, "Age of new adults")
	cmd.Flags().Uint8("first-section-max-age", _config.FirstSectionMaxAge, "Age of the first node joining the genesis section")
	cmd.Flags().Bool("first-section-ranged", _config.FirstSectionRanged, "Give the genesis section's joiners decreasing ages")
	cmd.Flags().Uint8("resource-proof-difficulty", _config.ResourceProofDifficulty, "Leading zero bits of join resource proofs")
	cmd.Flags().Int("max-concurrent-joins", _config.MaxConcurrentJoins, "Joins an elder handles at once")
	cmd.Flags().Duration("dkg-timeout", _config.DKGTimeout, "Key generation session timeout")
	cmd.Flags().Duration("tick", _config.TickInterval, "Timer period")

	// Relocation
	cmd.Flags().Int("relocation-min-section-size", _config.RelocationMinSectionSize, "Members below which nobody is relocated (0: twice the elder count)")
	cmd.Flags().Int("relocation-retries", _config.RelocationRetries, "Retries of each relocation step")
	cmd.Flags().Duration("relocation-timeout", _config.RelocationTimeout, "Timeout of each relocation step")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":            _config.DataDir,
		"BindAddr":           _config.BindAddr,
		"AdvertiseAddr":      _config.AdvertiseAddr,
		"ServiceAddr":        _config.ServiceAddr,
		"NoService":          _config.NoService,
		"MaxPool":            _config.MaxPool,
		"Store":              _config.Store,
		"LogLevel":           _config.LogLevel,
		"Moniker":            _config.Moniker,
		"TCPTimeout":         _config.TCPTimeout,
		"JoinTimeout":        _config.JoinTimeout,
		"Genesis":            _config.Genesis,
		"ElderCount":         _config.ElderCount,
		"MinAdultAge":        _config.MinAdultAge,
		"FirstSectionRanged": _config.FirstSectionRanged,
		"DKGTimeout":         _config.DKGTimeout,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
		logFields["StoreType"] = _config.StoreType
		logFields["Bootstrap"] = _config.Bootstrap
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/sectionnet.toml (.json, .yaml also work)
	viper.SetConfigName("sectionnet")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	found := false
	if err := viper.ReadInConfig(); err == nil {
		found = true
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return err
	}

	// second unmarshal to read from config file
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	if found {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	}

	return nil
}
