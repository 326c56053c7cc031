// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"os"

	"github.com/notecard-tools/ncfw/cmd/ncfw/dfu"
	"github.com/notecard-tools/ncfw/cmd/ncfw/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type ctxKey string

const (
	ctxKeyInfo   ctxKey = "info"
	ctxKeyLogger ctxKey = "logger"
)

type Info struct {
	Version string `mapstructure:"version" yaml:"version" json:"version"`
	Date    string `mapstructure:"date" yaml:"date" json:"date"`
}

func SetInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, ctxKeyInfo, info)
}

func GetInfo(ctx context.Context) Info {
	return ctx.Value(ctxKeyInfo).(Info)
}

func SetLogger(ctx context.Context, log *logrus.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, log)
}

// GetLogger returns the logger of the running command.
func GetLogger(ctx context.Context) *logrus.Logger {
	if ctx != nil {
		if log, ok := ctx.Value(ctxKeyLogger).(*logrus.Logger); ok {
			return log
		}
	}
	return logrus.StandardLogger()
}

func NcfwCmd(info Info, isReleaseBuild bool) *cobra.Command {
	clock := dfu.WallClock
	start := clock.Now()
	cmd := &cobra.Command{
		Use:   "ncfw",
		Short: "Update the firmware of your Notecard",
		Long: "ncfw updates Notecard firmware, either through Notehub while watching the update\n" +
			"over a local serial connection, or by flashing a Notecard in bootloader mode\n" +
			"with dfu-util. It also finds and downloads Notecard firmware published on Notehub.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, err := cmd.Flags().GetBool("debug")
			if err != nil {
				return err
			}
			log := logging.New(os.Stderr, start, debug, logging.WithNow(clock.Now))
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(SetLogger(ctx, log))
			return nil
		},
	}
	cmd.PersistentFlags().Bool("debug", false, "print debug output")

	cmd.AddCommand(
		UpdateCmd(),
		DfuCmd(),
		FirmwareCmd(),
		SetPortCmd(),
		ConfigCmd(),
		VersionCmd(info, isReleaseBuild),
	)
	return cmd
}
