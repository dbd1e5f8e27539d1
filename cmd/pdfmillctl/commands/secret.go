package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/manthysbr/pdfmill/internal/config"
)

func newSecretCmd() *cobra.Command {
	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage encrypted configuration values",
	}
	secretCmd.AddCommand(&cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a value with PDFMILL_SECRET_KEY for use in the environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := config.NewSecretKey(os.Getenv("PDFMILL_SECRET_KEY"))
			if key == nil {
				return fmt.Errorf("PDFMILL_SECRET_KEY is not set")
			}
			sealed, err := key.Encrypt(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return err
		},
	})
	return secretCmd
}
