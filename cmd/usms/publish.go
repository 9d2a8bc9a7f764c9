package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smartmeterbn/usms/internal/publisher"
)

var publishCmd = &cobra.Command{
	Use:   "publish [meter-no]",
	Short: "Publish stored consumption data to the MQTT broker",
	Long: `Pushes consumption entries that have not been published yet from the
local database to the configured MQTT broker, then marks them published.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pub, err := publisher.New(cfg.MQTT)
	if err != nil {
		return err
	}
	defer pub.Close()

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	meterNos := args
	if len(meterNos) == 0 {
		meterNos, err = db.ListMeters()
		if err != nil {
			return err
		}
	}

	logger := newLogger()
	for _, no := range meterNos {
		rows, err := db.ListUnpublished(no)
		if err != nil {
			return err
		}

		published := 0
		for _, row := range rows {
			if err := pub.PublishConsumption(row.MeterNo, row.Granularity, row.Entry); err != nil {
				logger.WithField("meter", no).WithError(err).Warn("publish failed")
				break
			}
			if err := db.MarkPublished(row.ID); err != nil {
				return err
			}
			published++
		}
		fmt.Printf("%s: published %d of %d pending entries\n", no, published, len(rows))
	}
	return nil
}
