package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tablewalk/internal/tablewalk/styles"
	"tablewalk/internal/ui/colorize"
	"tablewalk/internal/walker"
)

func newTagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List the known query codes",
		Long: `List the query codes the known-tags enricher and --known-only use: the
built-in NvAPI codes plus any "tags" from the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			table, err := tagTable(cfg)
			if err != nil {
				return err
			}
			entries := table.Entries()
			out := cmd.OutOrStdout()

			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				m := make(map[string]string, len(entries))
				for _, e := range entries {
					m[walker.FormatTag(e.Tag, walker.TagFixed)] = e.Name
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			}

			var md strings.Builder
			md.WriteString("| Query Code | Name |\n|---|---|\n")
			for _, e := range entries {
				fmt.Fprintf(&md, "| `%s` | %s |\n", walker.FormatTag(e.Tag, walker.TagFixed), e.Name)
			}
			renderer, err := styles.GetMarkdownRenderer(terminalWidth(), colorize.Enabled())
			if err != nil {
				return err
			}
			rendered, err := renderer.Render(md.String())
			if err != nil {
				return err
			}
			fmt.Fprint(out, rendered)
			return nil
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Print the table as JSON")
	return cmd
}
