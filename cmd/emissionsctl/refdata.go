package main

import (
	"github.com/spf13/cobra"

	"example.com/emissions/internal/refdata"
)

type refdataSummary struct {
	Source       string   `json:"source"`
	FuelMappings int      `json:"fuel_mappings"`
	Currencies   []string `json:"currencies"`
}

func newRefdataCmd(defaultPath string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refdata",
		Short: "Inspect reference data tables",
	}

	var path string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a reference data file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tables, err := refdata.Load(path)
			if err != nil {
				return err
			}
			source := path
			if source == "" {
				source = "built-in"
			}
			return printJSON(cmd.OutOrStdout(), refdataSummary{
				Source:       source,
				FuelMappings: len(tables.FuelTypes),
				Currencies:   tables.SupportedCurrencies(),
			})
		},
	}
	validate.Flags().StringVar(&path, "file", defaultPath, "Reference data YAML")
	cmd.AddCommand(validate)
	return cmd
}
