package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	language "github.com/hanpama/gqlhttp/internal/language"
)

func newCompileSDLCmd() *cobra.Command {
	var (
		schema []string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "compile-sdl",
		Short: "Merge and validate SDL files into a single schema",
		Long:  "compile-sdl loads the given SDL files as one schema, validates it and prints the normalized SDL. It exits non-zero on errors.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sch, err := language.LoadSchemaFiles(schema...)
			if err != nil {
				return err
			}
			sdl := language.FormatSchema(sch)
			if out == "" {
				_, err := io.WriteString(cmd.OutOrStdout(), sdl)
				return err
			}
			return errors.Wrapf(os.WriteFile(out, []byte(sdl), 0o644), "write %s", out)
		},
	}
	cmd.Flags().StringSliceVar(&schema, "schema", nil, "SDL files to load. Repeatable.")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write compiled SDL to file (default: stdout)")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}
