// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/notecard-tools/ncfw/cmd/ncfw/card"
	"github.com/notecard-tools/ncfw/cmd/ncfw/dfu"
	"github.com/notecard-tools/ncfw/cmd/ncfw/directory"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultBaud = 9600

func configuredBaud(cfg *viper.Viper) int {
	if baud := cfg.GetInt(directory.BaudKey); baud > 0 {
		return baud
	}
	return defaultBaud
}

func ConfiguredBaud() int {
	cfg, err := GetConfig()
	if err != nil {
		return defaultBaud
	}
	return configuredBaud(cfg)
}

func UpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the Notecard firmware through Notehub",
		Long: "Update the firmware of a Notecard attached to a serial port. The update is\n" +
			"requested from Notehub, which relays the firmware to the Notecard. The progress\n" +
			"is monitored over the serial connection and the new version is verified once the\n" +
			"Notecard has restarted.\n\n" +
			"The firmware must be available in the Notehub project the Notecard belongs to.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := GetLogger(ctx)

			req, err := requestFromFlags(cmd.Flags())
			if err != nil {
				return err
			}

			port, err := cmd.Flags().GetString("port")
			if err != nil {
				return err
			}
			if port, err = CheckPort(port); err != nil {
				return err
			}
			baud, err := cmd.Flags().GetInt("baud")
			if err != nil {
				return err
			}

			run := log.WithField("run", uuid.New().String())
			run.Infof("Updating the Notecard on '%s' to %s", port, req.Version)
			updater := dfu.NewUpdater(dfu.WithLogger(run))
			return updater.Run(ctx, serialOpener(port, baud), req)
		},
	}

	cmd.Flags().StringP("port", "p", ConfiguredPort(), "serial port of the Notecard")
	cmd.Flags().IntP("baud", "b", ConfiguredBaud(), "baud rate of the serial connection")
	addRequestFlags(cmd.Flags())
	cmd.MarkFlagRequired("filename")
	cmd.MarkFlagRequired("version")
	return cmd
}

func addRequestFlags(flags *pflag.FlagSet) {
	def := dfu.DefaultRequest()
	flags.StringP("filename", "f", "", "name of the firmware in Notehub")
	flags.StringP("version", "v", "", "version the Notecard reports once updated, as in card.version")
	flags.IntP("retries", "r", def.Retries, "number of update attempts")
	flags.DurationP("card-timeout", "c", def.OpenTimeout, "how long to wait for the Notecard to become available")
	flags.DurationP("timeout", "t", def.Timeout, "how long to wait for the update to complete")
	flags.Duration("poll-interval", def.PollInterval, "time between DFU status requests")
	flags.Duration("stall-timeout", def.StallTimeout, "how long the DFU status may stay unchanged")
	flags.Duration("reboot-delay", def.RebootDelay, "time to let the Notecard restart between attempts")
	flags.Duration("open-retry-delay", def.OpenRetryDelay, "time between attempts to open the Notecard")
}

func requestFromFlags(flags *pflag.FlagSet) (dfu.Request, error) {
	req := dfu.DefaultRequest()
	var err error
	if req.Filename, err = flags.GetString("filename"); err != nil {
		return req, err
	}
	if req.Version, err = flags.GetString("version"); err != nil {
		return req, err
	}
	if req.Retries, err = flags.GetInt("retries"); err != nil {
		return req, err
	}

	durations := []struct {
		flag string
		dst  *time.Duration
	}{
		{"card-timeout", &req.OpenTimeout},
		{"timeout", &req.Timeout},
		{"poll-interval", &req.PollInterval},
		{"stall-timeout", &req.StallTimeout},
		{"reboot-delay", &req.RebootDelay},
		{"open-retry-delay", &req.OpenRetryDelay},
	}
	for _, d := range durations {
		if *d.dst, err = flags.GetDuration(d.flag); err != nil {
			return req, err
		}
		if *d.dst < 0 {
			return req, errors.Errorf("--%s must not be negative", d.flag)
		}
	}
	return req, req.Validate()
}

// serialOpener opens the Notecard on port. The port disappears while the
// Notecard restarts, which is reported as an error so the caller retries.
func serialOpener(port string, baud int) dfu.Opener {
	return func(ctx context.Context) (dfu.Connection, error) {
		exists, err := PortExists(port)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errors.Errorf("serial port '%s' is not available", port)
		}
		c, err := card.OpenSerial(port, baud)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
