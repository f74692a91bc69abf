package commands

import (
	"fmt"

	"artcat/pkg/catalog"

	"github.com/spf13/cobra"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log <catalog>",
	Short: "Show published snapshots of a catalog",
	Long: `Lists the publish history of a catalog from the metadata index (newest
first). Without a database only the latest snapshot on disk is shown.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		if AC.Meta == nil {
			return showLatest(name)
		}

		snaps, err := AC.Meta.ListSnapshots(cmd.Context(), name, logLimit)
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots yet.")
			return nil
		}

		const (
			colorYellow = "\033[33m"
			colorReset  = "\033[0m"
		)
		for _, s := range snaps {
			fmt.Printf("%ssnapshot %s%s\n", colorYellow, s.Checksum, colorReset)
			fmt.Printf("Revision: %s\n", s.Revision)
			fmt.Printf("Packages: %d\n", s.Packages)
			fmt.Printf("URL:      %s\n\n", AC.Aggregator.URL(name, s.Checksum))
		}
		return nil
	},
}

func showLatest(name string) error {
	snap, err := AC.Entries.LatestSnapshot(name)
	if err != nil {
		if catalog.IsNotFound(err) {
			fmt.Println("No snapshots yet.")
			return nil
		}
		return err
	}
	packages := 0
	if snap.Packages != nil {
		packages = snap.Packages.Len()
	}
	checksum := catalog.Checksum(snap)
	fmt.Printf("snapshot %s (latest, no metadata index configured)\n", checksum)
	fmt.Printf("Revision: %s\n", snap.Revision)
	fmt.Printf("Packages: %d\n", packages)
	fmt.Printf("URL:      %s\n", AC.Aggregator.URL(name, checksum))
	return nil
}

func init() {
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "number of snapshots to show")
	rootCmd.AddCommand(logCmd)
}
