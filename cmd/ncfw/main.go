// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/notecard-tools/ncfw/cmd/ncfw/commands"
)

var (
	version = "v0.1.0"
)

var buildDate = "unknown"
var buildMode = "development"

func main() {
	isReleaseBuild := buildMode == "release"

	info := commands.Info{
		Date:    buildDate,
		Version: version,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = commands.SetInfo(ctx, info)
	cmd := commands.NcfwCmd(info, isReleaseBuild)
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
