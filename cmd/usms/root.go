package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/smartmeterbn/usms"
	"github.com/smartmeterbn/usms/internal/config"
	"github.com/smartmeterbn/usms/internal/database"
)

var (
	cfgFile string
	dbPath  string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "usms",
	Short: "Retrieve smart-meter data from the USMS portal",
	Long: `usms is a CLI for the USMS smart-meter portal. It logs in with your
account credentials, lists your meters, fetches instantaneous readings and
hourly/daily consumption history into a local SQLite database, and can
publish the data to an MQTT broker.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default is ./usms.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return "usms.db"
}

func loadConfig() (*config.Config, error) {
	return config.Load(getConfigPath())
}

func openDB() (*database.DB, error) {
	path := getDBPath()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	return database.New(path)
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// buildAccount wires the client from the config file.
func buildAccount(cfg *config.Config) (*usms.Account, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("no credentials configured. Add username/password to %s", getConfigPath())
	}

	opts := []usms.Option{
		usms.WithTimeout(cfg.GetTimeout()),
		usms.WithIntervals(cfg.GetRefreshInterval(), cfg.GetCheckInterval()),
		usms.WithLogger(newLogger()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, usms.WithBaseURL(cfg.BaseURL))
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, usms.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}))
	}

	return usms.NewAccount(cfg.Username, cfg.Password, opts...)
}
