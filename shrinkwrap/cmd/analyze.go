package cmd

import (
	"fmt"

	"shrinkwrap-tools/go/pkg/config"
	"shrinkwrap-tools/go/pkg/entrypoint"
	"shrinkwrap-tools/go/pkg/imports"
	"shrinkwrap-tools/go/pkg/prune"
	"shrinkwrap-tools/go/pkg/pyruntime"

	"github.com/spf13/cobra"
)

var (
	analyzeEntry    string
	analyzeProject  string
	analyzePython   string
	analyzeDepsDir  string
	analyzeNoImport bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Checks an entrypoint and reports the modules it imports.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		module, _, err := config.ParseEntrypoint(analyzeEntry)
		if err != nil {
			return err
		}
		fmt.Printf("Analyzing entrypoint: %s\n", analyzeEntry)

		if !analyzeNoImport {
			python, err := pyruntime.FindInterpreter(analyzePython)
			if err != nil {
				return err
			}
			res, err := entrypoint.Check(log, python, analyzeProject, analyzeEntry)
			if err != nil {
				return err
			}
			fmt.Printf("Entrypoint is a valid FastAPI application (%s)\n", res.Type)
		}

		graph := imports.BuildGraph(module, analyzeProject)
		used := prune.UsedModules(graph, imports.NewStdlib())
		var external []string
		for _, m := range used {
			if !imports.IsLocal(m, analyzeProject) {
				external = append(external, m)
			}
		}
		fmt.Printf("Local modules: %d\n", len(graph.Modules()))
		for _, m := range graph.Modules() {
			fmt.Printf("  %s\n", m)
		}
		fmt.Printf("Third-party imports: %d\n", len(external))
		for _, m := range external {
			fmt.Printf("  %s\n", m)
		}

		if analyzeDepsDir == "" {
			return nil
		}
		index, err := prune.BuildIndex(analyzeDepsDir)
		if err != nil {
			return err
		}
		needed := index.Closure(providers(index, external))
		fmt.Printf("Required packages: %d of %d installed\n", len(needed), len(index.Packages()))
		for _, pkg := range needed {
			fmt.Printf("  %s\n", pkg)
		}
		for _, m := range external {
			if !index.Provides(m) {
				fmt.Printf("Unmapped import, pruning would be skipped: %s\n", m)
			}
		}
		return nil
	},
}

func providers(index *prune.Index, modules []string) []string {
	var out []string
	for _, m := range modules {
		out = append(out, index.PackagesFor(m)...)
	}
	return out
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&analyzeEntry, "entry", "e", "", "ASGI entrypoint (example: app.main:app).")
	analyzeCmd.Flags().StringVarP(&analyzeProject, "project", "p", ".", "Project root the entrypoint is imported from.")
	analyzeCmd.Flags().StringVar(&analyzePython, "python", "", "Interpreter used for the import check.")
	analyzeCmd.Flags().StringVar(&analyzeDepsDir, "deps-dir", "", "Installed dependency directory to map imports against.")
	analyzeCmd.Flags().BoolVar(&analyzeNoImport, "static", false, "Skip importing the entrypoint; only scan sources.")
	_ = analyzeCmd.MarkFlagRequired("entry")
}
