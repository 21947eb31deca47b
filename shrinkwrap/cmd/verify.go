package cmd

import (
	"fmt"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/signing"

	"github.com/spf13/cobra"
)

var verifyPublicKeyFile string

var verifyCmd = &cobra.Command{
	Use:   "verify <artifact> --public-key <key>",
	Short: "Verifies the detached signature of a built artifact.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyPublicKeyFile == "" {
			return swerrors.New(swerrors.KindConfig, "no public key file provided (--public-key)")
		}
		if err := signing.VerifyFile(log, args[0], verifyPublicKeyFile); err != nil {
			return err
		}
		fmt.Printf("Signature OK: %s\n", signing.SignaturePath(args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyPublicKeyFile, "public-key", "", "Path to the public key file for signature verification.")
}
