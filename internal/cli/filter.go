package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AIDilloBot/trustgate/internal/redact"
)

func init() {
	rootCmd.AddCommand(filterCmd)
}

var filterCmd = &cobra.Command{
	Use:   "filter [text]",
	Short: "Redact secrets from outbound text",
	Long: "Runs text through the output filter, replacing credentials and\n" +
		"other sensitive matches with labeled redaction markers.\n\n" +
		"Text is read from the argument, or from stdin when omitted.\n" +
		"The filtered text goes to stdout; fired categories to stderr.",
	Args: cobra.MaximumNArgs(1),
	RunE: runFilter,
}

func runFilter(cmd *cobra.Command, args []string) error {
	text, err := contentFromArgsOrStdin(args)
	if err != nil {
		return err
	}

	res := redact.Filter(text)
	fmt.Print(res.Text)
	if res.Redacted {
		fmt.Fprintf(os.Stderr, "redacted: %v\n", res.Categories)
	}
	return nil
}
