package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"tablewalk/internal/config"
	"tablewalk/internal/walker"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "schema",
		Short:  "Generate JSON schema for configuration",
		Long:   "Generate JSON schema for the tablewalk config file, or with --records for the dump",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, _ := cmd.Flags().GetBool("records")
			reflector := new(jsonschema.Reflector)
			var s *jsonschema.Schema
			if records {
				s = reflector.Reflect(&[]walker.Record{})
			} else {
				s = reflector.Reflect(&config.Config{})
			}
			bts, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bts))
			return nil
		},
	}
	cmd.Flags().Bool("records", false, "Schema of the JSON dump instead of the config")
	return cmd
}
