// Command surveyctl normalizes and inspects schema documents offline and runs
// the database migrations.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"surveyforge/api/internal/schema"
	"surveyforge/api/internal/survey"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "surveyctl",
		Short:        "Survey schema document tools",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newFmtCmd(), newInspectCmd(), newMigrateCmd())
	return rootCmd
}

// readDocument decodes the document at path, or stdin when path is "-".
func readDocument(cmd *cobra.Command, path string) (*survey.Survey, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s, err := schema.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}
