// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"strings"

	"github.com/notecard-tools/ncfw/cmd/ncfw/directory"
	"github.com/notecard-tools/ncfw/cmd/ncfw/notehub"
	"github.com/spf13/cobra"
)

func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configure ncfw",
		Long:  "Configure the ncfw command line tool.",
	}

	cmd.AddCommand(
		ConfigNotehubCmd(),
		ConfigTokenCmd(),
		ConfigPortCmd(),
	)
	return cmd
}

func ConfigNotehubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notehub",
		Short: "Configure the Notehub firmware is retrieved from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := GetConfig()
			if err != nil {
				return err
			}
			url := directory.GetNotehubURL(cfg)
			if url == "" {
				url = notehub.DefaultURL + " (default)"
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set [<url>]",
			Short: "Use the Notehub at the given URL",
			Long:  "Use the Notehub at the given URL. The URL is read from stdin if not given.",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := GetConfig()
				if err != nil {
					return err
				}
				var url string
				if len(args) == 1 {
					url = args[0]
				} else {
					fmt.Fprint(cmd.OutOrStdout(), "Enter Notehub URL: ")
					if url, err = ReadLine(cmd.InOrStdin()); err != nil {
						return err
					}
				}
				if url == "" {
					return fmt.Errorf("no Notehub URL given")
				}
				cfg.Set(directory.NotehubURLKey, strings.TrimSuffix(url, "/"))
				return directory.WriteConfig(cfg)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Use the default Notehub",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := GetConfig()
				if err != nil {
					return err
				}
				cfg.Set(directory.NotehubURLKey, "")
				return directory.WriteConfig(cfg)
			},
		},
	)
	return cmd
}

func ConfigTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Configure the Notehub access token",
		Long: "Configure the Notehub access token sent with firmware requests.\n\n" +
			"Published firmware can be retrieved without a token.",
		Args: cobra.NoArgs,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set",
			Short: "Store a Notehub access token",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := GetConfig()
				if err != nil {
					return err
				}
				fmt.Printf("Enter Notehub access token: ")
				token, err := ReadPassword()
				if err != nil {
					fmt.Printf("\n")
					return err
				}
				cfg.Set(directory.NotehubTokenKey, strings.TrimSpace(string(token)))
				return directory.WriteConfig(cfg)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the stored Notehub access token",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := GetConfig()
				if err != nil {
					return err
				}
				cfg.Set(directory.NotehubTokenKey, "")
				return directory.WriteConfig(cfg)
			},
		},
	)
	return cmd
}

func ConfigPortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Print the configured serial port and baud rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := GetConfig()
			if err != nil {
				return err
			}
			port := cfg.GetString(directory.PortKey)
			if port == "" {
				port = "(none, use 'ncfw set-port')"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "port:\t%s\nbaud:\t%d\n", port, configuredBaud(cfg))
			return nil
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "baud <rate>",
			Short: "Set the default baud rate of the serial connection",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				cfg, err := GetConfig()
				if err != nil {
					return err
				}
				var baud int
				if _, err := fmt.Sscanf(args[0], "%d", &baud); err != nil || baud <= 0 {
					return fmt.Errorf("invalid baud rate '%s'", args[0])
				}
				cfg.Set(directory.BaudKey, baud)
				return directory.WriteConfig(cfg)
			},
		},
	)
	return cmd
}
