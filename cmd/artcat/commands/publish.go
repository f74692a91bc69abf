package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"artcat/pkg/catalog"

	"github.com/spf13/cobra"
)

var (
	publishPlan   bool
	publishDryRun bool
)

var publishCmd = &cobra.Command{
	Use:   "publish [catalog]",
	Short: "Publish a catalog for consumption by users",
	Long: `With a catalog name, reads the aggregation payload as JSON from stdin,
prints the resulting snapshot and persists it.

With --plan the payload is built from the configured catalog members and
their latest recorded entries instead of stdin. Without a catalog name every
configured catalog is planned and published in configured order.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if len(args) == 0 {
			names := AC.Planner.Catalogs()
			if len(names) == 0 {
				fmt.Println("No catalogs configured.")
				return nil
			}
			// 依次发布，保持配置顺序
			for _, name := range names {
				p, err := AC.Planner.Plan(ctx, name)
				if err != nil {
					return err
				}
				if err := publishPayload(ctx, cmd.OutOrStdout(), name, p); err != nil {
					return err
				}
			}
			return nil
		}

		name := args[0]
		var (
			p   *catalog.Payload
			err error
		)
		if publishPlan {
			p, err = AC.Planner.Plan(ctx, name)
		} else {
			p, err = readPayload(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		return publishPayload(ctx, cmd.OutOrStdout(), name, p)
	},
}

func readPayload(r io.Reader) (*catalog.Payload, error) {
	if f, ok := r.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			return nil, fmt.Errorf("expected a JSON payload on stdin (or use --plan)")
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return catalog.ParsePayload(data)
}

// publishPayload 先打印 snapshot 再落盘
func publishPayload(ctx context.Context, out io.Writer, name string, p *catalog.Payload) error {
	fmt.Printf("🗂️  Publish catalog: %s\n", name)

	snap, checksum, err := AC.Aggregator.Build(ctx, name, p)
	if err != nil {
		return err
	}

	body, err := catalog.Encode(snap)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(body))

	if publishDryRun {
		fmt.Printf("⏭️  Dry run, not persisted (checksum %s)\n", checksum)
		return nil
	}

	if err := AC.Aggregator.Persist(ctx, name, checksum, snap); err != nil {
		return err
	}
	fmt.Printf("✅ Published catalog to: %s\n", AC.Aggregator.URL(name, checksum))
	return nil
}

func init() {
	publishCmd.Flags().BoolVar(&publishPlan, "plan", false, "build the payload from configuration instead of stdin")
	publishCmd.Flags().BoolVar(&publishDryRun, "dry-run", false, "print the snapshot without persisting it")
	rootCmd.AddCommand(publishCmd)
}
