package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SS8816/rulequery/internal/retrieval"
)

var docsSearchK int

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage the SQL documentation index used for prompt context",
}

var docsLoadCmd = &cobra.Command{
	Use:   "load <file>",
	Short: "Load documentation snippets from a file",
	Long: `Split the file on blank lines and index each paragraph as a snippet.
Snippets are retrieved by term overlap and attached to generation and
repair prompts.`,
	Args: cobra.ExactArgs(1),
	RunE: runDocsLoad,
}

var docsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Show the snippets retrieved for a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsSearch,
}

func init() {
	docsSearchCmd.Flags().IntVar(&docsSearchK, "k", 3, "Number of snippets to retrieve")

	docsCmd.AddCommand(docsLoadCmd)
	docsCmd.AddCommand(docsSearchCmd)
	rootCmd.AddCommand(docsCmd)
}

func runDocsLoad(cmd *cobra.Command, args []string) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	index, err := retrieval.Create(cfg.Retrieval.IndexPath)
	if err != nil {
		return err
	}
	defer index.Close()

	count, err := index.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d snippets from %s.\n", count, args[0])

	return nil
}

func runDocsSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadRuntime()
	if err != nil {
		return err
	}

	index, err := retrieval.Open(cfg.Retrieval.IndexPath)
	if err != nil {
		return err
	}
	defer index.Close()

	snippets, err := index.Retrieve(cmd.Context(), args[0], docsSearchK)
	if err != nil {
		return err
	}

	if len(snippets) == 0 {
		fmt.Println("No matching snippets.")
		return nil
	}

	for i, snippet := range snippets {
		fmt.Printf("%d. [%s]\n%s\n\n", i+1, snippet.SourceRef, snippet.Text)
	}

	return nil
}
