package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

func newConfigCmd(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: "Print the configuration after applying defaults, the configuration file, " +
			"STREAMCACHE_* environment variables and flags",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			if output != "" {
				if err := cfg.SaveToFile(output); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "configuration written to %s\n", output)
				return nil
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the configuration to this file instead of stdout")

	return cmd
}
