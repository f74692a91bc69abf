package commands

import (
	"fmt"

	"artcat/pkg/treehash"

	"github.com/spf13/cobra"
)

var hashCmd = &cobra.Command{
	Use:   "hash <dir>...",
	Short: "Print the content digest of directory trees",
	Long:  `Prints the digest used as the cache key for an aspect directory.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h := treehash.NewHasher(AC.Logger.Named("treehash"))
		for _, dir := range args {
			digest, err := h.Digest(cmd.Context(), dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", digest, dir)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
}
