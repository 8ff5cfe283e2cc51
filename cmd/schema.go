package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/SS8816/rulequery/internal/errors"
	"github.com/SS8816/rulequery/internal/schema"
)

var schemaShowColumns bool

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect schema DDL files",
}

var schemaInspectCmd = &cobra.Command{
	Use:   "inspect <ddl-file>",
	Short: "Parse a DDL file and print its table summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaInspect,
}

func init() {
	schemaInspectCmd.Flags().BoolVar(&schemaShowColumns, "columns", false, "List every column per table")

	schemaCmd.AddCommand(schemaInspectCmd)
	rootCmd.AddCommand(schemaCmd)
}

func runSchemaInspect(cmd *cobra.Command, args []string) error {
	if _, err := loadRuntime(); err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrTypeConfig, "failed to read DDL file")
	}

	catalog := schema.Parse(string(data))
	if catalog.Len() == 0 {
		return apperrors.New(apperrors.ErrTypeSchemaResolution, "no tables found in DDL file")
	}

	fmt.Printf("Tables: %d\n\n", catalog.Len())
	fmt.Println(catalog.Summarize())

	if schemaShowColumns {
		for _, table := range catalog.Tables() {
			fmt.Printf("\n%s:\n", table)

			for _, col := range catalog.Columns(table) {
				line := fmt.Sprintf("  %s %s", col.Name, col.RawType)
				if len(col.NestedFields) > 0 {
					line += " (" + strings.Join(col.NestedFields, ", ") + ")"
				}

				fmt.Println(line)
			}
		}
	}

	return nil
}
