package cmd

import (
	"shrinkwrap-tools/go/pkg/signing"

	"github.com/spf13/cobra"
)

var (
	keygenOutDir       string
	privateKeyFileName string
	publicKeyFileName  string
	keygenBits         int
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generates an RSA key pair for artifact signing.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Info("keymgmt", "generate", "progress", "Generating RSA key pair", "bits", keygenBits)
		_, _, err := signing.WriteKeyPair(log, keygenOutDir, privateKeyFileName, publicKeyFileName, keygenBits)
		return err
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenOutDir, "out-dir", "d", ".", "Directory to save the key pair.")
	keygenCmd.Flags().StringVar(&privateKeyFileName, "private-key-file", signing.DefaultPrivateKeyFile, "Filename for the private key.")
	keygenCmd.Flags().StringVar(&publicKeyFileName, "public-key-file", signing.DefaultPublicKeyFile, "Filename for the public key.")
	keygenCmd.Flags().IntVar(&keygenBits, "bits", signing.DefaultKeyBits, "RSA key size.")
}
