package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/attestnetworks/factum/src/factum"
	"github.com/sirupsen/logrus"
)

//NewRunCmd returns the command that starts a Factum node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runFactum,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runFactum(cmd *cobra.Command, args []string) error {
	engine := factum.NewFactum(_config)

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
	cmd.Flags().String("log-file", _config.LogFile, "Mirror log output to this file")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Dabatabase directory")
	cmd.Flags().Bool("bootstrap", _config.Bootstrap, "Load from database")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of items in in-memory caches")

	// Ledger
	cmd.Flags().Duration("scope-lock-timeout", _config.ScopeLockTimeout, "Max wait for a scope's write lock")
	cmd.Flags().Int("append-retries", _config.AppendRetries, "Retries of a timed-out append")
	cmd.Flags().Duration("append-backoff", _config.AppendBackoff, "Initial backoff between append retries")
	cmd.Flags().Bool("dedup", _config.Dedup, "Reject identical content within a scope")

	// Checkpoints
	cmd.Flags().Int("checkpoint-size", _config.CheckpointSize, "Number of facts that triggers a checkpoint")
	cmd.Flags().Duration("checkpoint-interval", _config.CheckpointInterval, "Max time between checkpoints")

	// Consensus
	cmd.Flags().Int("quorum", _config.Quorum, "Min number of distinct voting agents")
	cmd.Flags().Float64("verify-threshold", _config.VerifyThreshold, "Weighted score at or above which a fact is verified")
	cmd.Flags().Float64("reject-threshold", _config.RejectThreshold, "Weighted score below which a fact is rejected")

	// Reputation
	cmd.Flags().Float64("reputation-floor", _config.ReputationFloor, "Minimum reputation weight")
	cmd.Flags().Float64("initial-reputation", _config.InitialReputation, "Weight assigned to new agents")
	cmd.Flags().Float64("reputation-alpha", _config.ReputationAlpha, "Reputation smoothing factor")
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
		"factum.DataDir":            _config.DataDir,
		"factum.ServiceAddr":        _config.ServiceAddr,
		"factum.NoService":          _config.NoService,
		"factum.Store":              _config.Store,
		"factum.LogLevel":           _config.LogLevel,
		"factum.Moniker":            _config.Moniker,
		"factum.CacheSize":          _config.CacheSize,
		"factum.ScopeLockTimeout":   _config.ScopeLockTimeout,
		"factum.AppendRetries":      _config.AppendRetries,
		"factum.Dedup":              _config.Dedup,
		"factum.CheckpointSize":     _config.CheckpointSize,
		"factum.CheckpointInterval": _config.CheckpointInterval,
		"factum.Quorum":             _config.Quorum,
		"factum.VerifyThreshold":    _config.VerifyThreshold,
		"factum.RejectThreshold":    _config.RejectThreshold,
	}

	if _config.Store {
		logFields["factum.DatabaseDir"] = _config.DatabaseDir
		logFields["factum.Bootstrap"] = _config.Bootstrap
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

	// look for config file in [datadir]/factum.toml (.json, .yaml also work)
	viper.SetConfigName("factum")        // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
