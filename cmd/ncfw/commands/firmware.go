// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/notecard-tools/ncfw/cmd/ncfw/directory"
	"github.com/notecard-tools/ncfw/cmd/ncfw/notehub"
	"github.com/spf13/cobra"
)

func FirmwareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "firmware",
		Short: "Find and download Notecard firmware published on Notehub",
		Args:  cobra.NoArgs,
	}
	cmd.PersistentFlags().String("notehub", "", "URL of the Notehub to use instead of the configured one")
	cmd.AddCommand(
		FirmwareListCmd(),
		FirmwareQueryCmd(),
		FirmwareGetCmd(),
	)
	return cmd
}

func notehubClient(cmd *cobra.Command) (*notehub.Client, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	url, err := cmd.Flags().GetString("notehub")
	if err != nil {
		return nil, err
	}
	if url == "" {
		url = directory.GetNotehubURL(cfg)
	}
	return notehub.NewClient(url, directory.GetNotehubToken(cfg), GetLogger(cmd.Context())), nil
}

type firmwareList []notehub.Firmware

func (l firmwareList) Elements() []Short {
	var res []Short
	for _, fw := range l {
		res = append(res, fw)
	}
	return res
}

func FirmwareListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List the Notecard firmware available on Notehub",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			allow, err := cmd.Flags().GetBool("allow")
			if err != nil {
				return err
			}
			version, err := cmd.Flags().GetString("version")
			if err != nil {
				return err
			}
			target, err := cmd.Flags().GetString("target")
			if err != nil {
				return err
			}
			enc, err := parseOutputFlag(cmd)
			if err != nil {
				return err
			}
			client, err := notehubClient(cmd)
			if err != nil {
				return err
			}

			list, err := client.ListFirmware(cmd.Context(), allow, version)
			if err != nil {
				return err
			}
			if target != "" {
				list = notehub.Filter(list, nil, target)
			}
			notehub.Sort(list)
			return enc.Encode(firmwareList(list))
		},
	}
	cmd.Flags().BoolP("allow", "a", false, "include unpublished firmware")
	cmd.Flags().String("version", "", "only list firmware of this version")
	cmd.Flags().String("target", "", "only list firmware for this target, like r5 or u5")
	cmd.Flags().StringP("output", "o", "short", "set output format to json, yaml or short")
	return cmd
}

func FirmwareQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Find the name of Notecard firmware on Notehub",
		Long: "Find Notecard firmware on Notehub by name, or the highest version matching a\n" +
			"version prefix and target. The version is given as [<major>[.<minor>[.<patch>[.<build>]]]],\n" +
			"so 5.4 selects the highest 5.4.x.y version, like 5.4.10.12345, but not 5.5.\n\n" +
			"Prints the firmware name, or its full descriptor as JSON with --json.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var q notehub.Query
			var err error
			if q.Name, err = cmd.Flags().GetString("name"); err != nil {
				return err
			}
			if q.Target, err = cmd.Flags().GetString("target"); err != nil {
				return err
			}
			if q.Version, err = cmd.Flags().GetString("version"); err != nil {
				return err
			}
			if q.Allow, err = cmd.Flags().GetBool("allow"); err != nil {
				return err
			}
			asJSON, err := cmd.Flags().GetBool("json")
			if err != nil {
				return err
			}
			client, err := notehubClient(cmd)
			if err != nil {
				return err
			}

			fw, err := client.FindFirmware(cmd.Context(), q)
			if err != nil {
				return err
			}
			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), fw.Name)
				return nil
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(fw.Raw)
		},
	}
	cmd.Flags().StringP("name", "n", "", "name of the firmware to retrieve")
	cmd.Flags().StringP("target", "t", notehub.DefaultTarget, "target architecture")
	cmd.Flags().StringP("version", "v", "", "version prefix to match")
	cmd.Flags().BoolP("allow", "a", false, "allow unpublished firmware")
	cmd.Flags().BoolP("json", "j", false, "print the firmware descriptor as JSON")
	return cmd
}

func FirmwareGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Download Notecard firmware from Notehub",
		Long: "Download the named firmware from Notehub. The payload is checked against the\n" +
			"length and MD5 Notehub reports and saved together with a .json descriptor.\n" +
			"Nothing is downloaded if a valid copy already exists.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cmd.Flags().GetString("cache-dir")
			if err != nil {
				return err
			}
			if dir == "" {
				if dir, err = directory.GetFirmwareCachePath(); err != nil {
					return err
				}
			}
			client, err := notehubClient(cmd)
			if err != nil {
				return err
			}
			client.Progress = os.Stderr

			path, err := client.Fetch(cmd.Context(), notehub.Cache{Dir: dir}, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().String("cache-dir", "", "directory to save the firmware in, defaults to the ncfw cache")
	return cmd
}
