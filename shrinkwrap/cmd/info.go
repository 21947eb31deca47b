package cmd

import (
	"fmt"
	"os"

	"shrinkwrap-tools/go/pkg/layout"
	"shrinkwrap-tools/go/pkg/pipeline"
	"shrinkwrap-tools/go/pkg/sfx"

	"github.com/spf13/cobra"
)

var infoExtractDir string

var infoCmd = &cobra.Command{
	Use:   "info <bundle_dir|executable>",
	Short: "Displays information about a built bundle or self-extracting executable.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if st, err := os.Stat(path); err == nil && st.IsDir() {
			return describeBundle(path)
		}

		info, err := sfx.Locate(path)
		if err != nil {
			return err
		}
		fmt.Printf("Executable Information for: %s\n", path)
		fmt.Printf("  Header Size: %d bytes\n", info.HeaderSize)
		fmt.Printf("  Payload Offset: %d\n", info.PayloadOffset)
		fmt.Printf("  Payload Size: %d bytes\n", info.PayloadSize)
		fmt.Printf("  Payload Format: %s\n", info.Format)
		fmt.Printf("  Payload SHA256: %s\n", info.SHA256)

		if infoExtractDir == "" {
			return nil
		}
		files, err := sfx.Extract(path, infoExtractDir)
		if err != nil {
			return err
		}
		log.Info("archive", "extract", "success", "Payload extracted", "dest", infoExtractDir, "files", len(files))
		if err := describeBundle(infoExtractDir); err != nil {
			log.Warn("archive", "read", "skip", "Extracted payload has no build info", "error", err)
		}
		return nil
	},
}

func describeBundle(root string) error {
	l, err := layout.Open(root)
	if err != nil {
		return err
	}
	if err := l.Validate(); err != nil {
		return err
	}
	bi, err := pipeline.ReadBuildInfo(l)
	if err != nil {
		return err
	}
	fmt.Printf("Bundle Information for: %s\n", root)
	fmt.Printf("  Build ID: %s\n", bi.BuildID)
	fmt.Printf("  Created: %s\n", bi.CreatedAt)
	fmt.Printf("  Entrypoint: %s\n", bi.Entrypoint)
	fmt.Printf("  Format: %s\n", bi.Format)
	fmt.Printf("  Python: %s (%s)\n", bi.PythonVersion, bi.Platform)
	fmt.Printf("  Zip Imports: %t\n", bi.ZipImports)
	fmt.Printf("  Pruned Packages: %v\n", bi.PrunedPackages)
	fmt.Printf("  Removed: %d files, %d directories, %d bytes reclaimed\n",
		bi.Optimization.FilesRemoved, bi.Optimization.DirectoriesRemoved, bi.Optimization.BytesReclaimed)
	return nil
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringVar(&infoExtractDir, "extract", "", "Extract an executable's payload into this directory.")
}
