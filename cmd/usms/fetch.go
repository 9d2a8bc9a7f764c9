package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartmeterbn/usms"
	"github.com/smartmeterbn/usms/pkg/models"
)

var (
	fetchDays   int
	fetchDaily  bool
	fetchMonths int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [meter-no]",
	Short: "Fetch consumption history into the local database",
	Long: `Fetches hourly consumption history for the given meter (or for every
meter when none is given) and stores it in the local SQLite database.
With --daily, fetches daily totals for recent months instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().IntVar(&fetchDays, "days", 0, "days of hourly history to fetch (default from config)")
	fetchCmd.Flags().BoolVar(&fetchDaily, "daily", false, "fetch daily totals instead of hourly consumption")
	fetchCmd.Flags().IntVar(&fetchMonths, "months", 1, "months of daily history to fetch with --daily")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	days := fetchDays
	if days <= 0 {
		days = cfg.GetDaysToFetch()
	}

	account, err := buildAccount(cfg)
	if err != nil {
		return err
	}
	defer account.Close()

	if err := account.Initialize(cmd.Context()); err != nil {
		return fmt.Errorf("initializing account: %w", err)
	}

	meters, err := account.Meters()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		m, err := account.Meter(args[0])
		if err != nil {
			return err
		}
		meters = []*usms.Meter{m}
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	logger := newLogger()
	for _, m := range meters {
		var (
			series models.ConsumptionSeries
			err    error
		)
		if fetchDaily {
			now := time.Now().In(models.BruneiTZ)
			from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, models.BruneiTZ).AddDate(0, -(fetchMonths - 1), 0)
			series, err = m.DailyConsumption(cmd.Context(), from, now)
		} else {
			series, err = m.LastNDaysHourly(cmd.Context(), days)
		}
		if err != nil {
			logger.WithField("meter", m.No()).WithError(err).Warn("fetch failed")
			if len(series.Entries) == 0 {
				continue
			}
		}

		inserted, err := db.InsertSeries(m.No(), series)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d entries fetched, %d new\n", m.No(), len(series.Entries), inserted)
	}
	return nil
}
