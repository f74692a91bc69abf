package commands

import (
	"fmt"
	"os"

	"artcat/pkg/catalog"
	"artcat/pkg/ingester"

	"github.com/spf13/cobra"
)

var (
	recordServicePath string
	recordForce       bool
)

var recordCmd = &cobra.Command{
	Use:   "record <catalog>",
	Short: "Write the catalog entry for the live revision of a service",
	Long: `Caches every aspect (scripts, source, build) of the service deployed at
--service-path in the object store and records the resulting catalog entry.
Unchanged aspects are not rebuilt or uploaded again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !catalog.ValidName(name) {
			return fmt.Errorf("invalid catalog name %q", name)
		}

		// 1. 服务身份
		svc, err := ingester.ReadServiceInfo(recordServicePath)
		if err != nil {
			return err
		}

		ing, err := AC.Ingester()
		if err != nil {
			return err
		}

		// 2. 缓存 + 记录
		fmt.Printf("📦 Cataloging service %s (%s) into '%s'...\n", svc.ID, svc.FinalChecksum, name)
		res, err := ing.IngestService(cmd.Context(), svc, ingester.IngestOptions{Catalog: name, Force: recordForce})
		if err != nil {
			return err
		}

		// 3. 结果
		switch {
		case res.Skipped:
			fmt.Println("⏭️  Skip recording in catalog. Service has not changed!")
		case !res.Written:
			fmt.Println("⏭️  Skip recording in catalog. Nothing has changed!")
		default:
			fmt.Printf("✅ Recorded at %s\n", AC.Entries.EntryPath(name, svc.ID, svc.FinalChecksum, false))
		}
		for aspect, uri := range res.Entry.Aspects {
			fmt.Printf("   %-8s %s\n", aspect, uri)
		}
		return nil
	},
}

func init() {
	wd, _ := os.Getwd()
	if env := os.Getenv("ARTCAT_SERVICE_PATH"); env != "" {
		wd = env
	}
	recordCmd.Flags().StringVar(&recordServicePath, "service-path", wd, "deployed service directory (contains sync/ and live/)")
	recordCmd.Flags().BoolVarP(&recordForce, "force", "f", false, "rebuild and re-upload even if nothing changed")
	rootCmd.AddCommand(recordCmd)
}
