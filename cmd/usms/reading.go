package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartmeterbn/usms"
)

var readingForce bool

var readingCmd = &cobra.Command{
	Use:   "reading [meter-no]",
	Short: "Fetch the current reading for a meter",
	Long: `Fetches the instantaneous reading for the given meter (or for every
meter when none is given) and stores a snapshot in the local database.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReading,
}

func init() {
	readingCmd.Flags().BoolVar(&readingForce, "force", false, "bypass the freshness cache")
	rootCmd.AddCommand(readingCmd)
}

func runReading(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
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

	for _, m := range meters {
		fetch := m.Instantaneous
		if readingForce {
			fetch = m.ForceRefresh
		}
		r, err := fetch(cmd.Context())
		if err != nil {
			fmt.Printf("⚠ %s: %v\n", m.No(), err)
			continue
		}

		fmt.Printf("%s: %.3f %s (as of %s)\n",
			m.No(), r.Value, r.Unit, r.CapturedAt.Format("2006-01-02 15:04:05"))

		if err := db.InsertReading(m.No(), r); err != nil {
			return err
		}
	}
	return nil
}
