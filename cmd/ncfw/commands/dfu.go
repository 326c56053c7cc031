// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"os"
	"time"

	"github.com/notecard-tools/ncfw/cmd/ncfw/dfuutil"
	"github.com/notecard-tools/ncfw/cmd/ncfw/directory"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func DfuCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dfu <file>",
		Short: "Flash a Notecard in bootloader mode with dfu-util",
		Long: "Flash a local firmware file to a Notecard in bootloader mode over USB using\n" +
			"dfu-util. The Notecard is identified by its serial number, as listed by\n" +
			"'dfu-util -l'.\n\n" +
			"dfu-util is looked up in the PATH unless " + directory.DfuUtilPathEnv + " is set.",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := GetLogger(ctx)

			serial, err := cmd.Flags().GetString("serial-number")
			if err != nil {
				return err
			}
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return err
			}

			filename := args[0]
			if stat, err := os.Stat(filename); err != nil {
				return errors.Wrapf(err, "cannot read firmware '%s'", filename)
			} else if stat.IsDir() {
				return errors.Errorf("'%s' is a directory", filename)
			}

			path, err := directory.GetDfuUtilPath()
			if err != nil {
				return err
			}

			runner := dfuutil.NewRunner(path, log)
			runner.Stdout = cmd.OutOrStdout()
			if err := runner.Flash(ctx, serial, filename, timeout); err != nil {
				return err
			}
			log.Infof("Flashed %s to Notecard %s", filename, serial)
			return nil
		},
	}

	cmd.Flags().String("serial-number", "", "serial number of the Notecard to flash")
	cmd.Flags().DurationP("timeout", "t", 5*time.Minute, "how long to wait for the flashing to finish")
	cmd.MarkFlagRequired("serial-number")
	return cmd
}
