package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evolab/evolab/internal/importer"
)

var importCmd = &cobra.Command{
	Use:   "import <github-url|dir>",
	Short: "Render a project as a code generation prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		imp := importer.New(nil)
		imp.APIBase = cfg.Import.GitHubAPI
		imp.Ref = cfg.Import.Ref
		imp.MaxFileBytes = cfg.Import.MaxFileBytes
		imp.MaxArchiveBytes = cfg.Import.MaxArchiveBytes

		source := args[0]
		var files []importer.File
		if info, statErr := os.Stat(source); statErr == nil && info.IsDir() {
			files, err = imp.FromDir(cmd.Context(), source)
		} else if strings.Contains(source, "github.com") {
			files, err = imp.FromGitHub(cmd.Context(), source)
		} else {
			return fmt.Errorf("%s is neither a directory nor a GitHub URL", source)
		}
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), importer.ToPrompt(files))
		return nil
	},
}
