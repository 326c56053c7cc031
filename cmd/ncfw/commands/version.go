// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

func VersionCmd(info Info, isReleaseBuild bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "version",
		Short:        "Print the version of ncfw",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			version := info.Version
			if !isReleaseBuild {
				version = getGitVersion()
			}

			fmt.Printf("ncfw version:\t%s\n", version)
			fmt.Printf("Build date:\t%s\n", info.Date)
			if !isReleaseBuild {
				fmt.Println("Build type:\tdevelopment")
			}
		},
	}
	return cmd
}

// getGitVersion tries to determine a useful version string from git
func getGitVersion() string {
	if tag, err := exec.Command("git", "describe", "--tags", "--exact-match").Output(); err == nil {
		return strings.TrimSpace(string(tag))
	}

	if desc, err := exec.Command("git", "describe", "--tags", "--dirty").Output(); err == nil {
		return strings.TrimSpace(string(desc))
	}

	if rev, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output(); err == nil {
		return "dev-" + strings.TrimSpace(string(rev))
	}

	return "dev-unknown"
}
