package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ContentFlow/internal/classifier"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Show the heuristic mode decision for a request",
	Long: `Run the offline pattern heuristic on a request and print the chosen mode
together with the patterns that matched. The fast model is not called.

Example:
  contentflowd classify "create a landing page and then configure SEO"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "mode: %s\n", classifier.Heuristic(text))
		matched := classifier.Explain(text)
		if len(matched) == 0 {
			fmt.Fprintln(out, "patterns: (none)")
			return nil
		}
		fmt.Fprintf(out, "patterns: %s\n", strings.Join(matched, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
