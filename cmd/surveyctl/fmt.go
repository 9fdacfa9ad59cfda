package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"surveyforge/api/internal/schema"
)

func newFmtCmd() *cobra.Command {
	var write, compact bool
	fmtCmd := &cobra.Command{
		Use:   "fmt <file|->",
		Short: "Normalize a schema document",
		Long: "Decodes a schema document and encodes it again. Unknown fields are dropped, " +
			"missing pages or questions are filled in and repeated names are renamed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			s, err := readDocument(cmd, path)
			if err != nil {
				return err
			}

			var out []byte
			if compact {
				out, err = schema.Marshal(s)
			} else {
				out, err = schema.MarshalIndent(s)
			}
			if err != nil {
				return fmt.Errorf("encode: %w", err)
			}
			out = append(out, '\n')

			if write {
				if path == "-" {
					return fmt.Errorf("--write needs a file argument")
				}
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				return os.WriteFile(path, out, info.Mode().Perm())
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	fmtCmd.Flags().BoolVarP(&write, "write", "w", false, "write the result back to the file")
	fmtCmd.Flags().BoolVar(&compact, "compact", false, "emit compact JSON")
	return fmtCmd
}
