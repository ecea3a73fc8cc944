package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ProhibitedTV/ChoomLang/internal/config"
)

func (a *app) configFilePath() string {
	if a.configPath != "" {
		return a.configPath
	}
	return config.Path()
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and inspect the config file",
	}

	var (
		force          bool
		aModel, bModel string
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		Long:  "With --a-model or --b-model the file is written as plain TOML carrying those relay defaults.",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			path := a.configFilePath()
			if aModel == "" && bModel == "" {
				if err := config.WriteTemplate(path, force); err != nil {
					if errors.Is(err, config.ErrExists) {
						return fmt.Errorf("%w (use --force to overwrite)", err)
					}
					return err
				}
				fmt.Fprintln(a.stdout, path)
				return nil
			}

			cfg := a.cfg
			if force {
				cfg = config.Default()
			}
			if aModel != "" {
				cfg.Relay.AModel = aModel
			}
			if bModel != "" {
				cfg.Relay.BModel = bModel
			}
			if err := config.SaveTo(path, cfg); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file (and start from defaults)")
	initCmd.Flags().StringVar(&aModel, "a-model", "", "Default relay model for speaker A")
	initCmd.Flags().StringVar(&bModel, "b-model", "", "Default relay model for speaker B")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config as TOML",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			data, err := config.Encode(a.cfg)
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			fmt.Fprintln(a.stdout, a.configFilePath())
			return nil
		},
	}

	cmd.AddCommand(initCmd, show, path)
	return cmd
}
