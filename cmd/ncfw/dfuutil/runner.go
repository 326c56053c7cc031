// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package dfuutil

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ListTimeout bounds `dfu-util -l`.
const ListTimeout = 20 * time.Second

// Runner runs a dfu-util binary.
type Runner struct {
	Path   string
	Stdout io.Writer
	Stderr io.Writer
	Log    logrus.FieldLogger

	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewRunner(path string, log logrus.FieldLogger) *Runner {
	return &Runner{
		Path:    path,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Log:     log,
		command: exec.CommandContext,
	}
}

func (r *Runner) cmd(ctx context.Context, args ...string) *exec.Cmd {
	r.Log.Infof("Running %s %s", r.Path, strings.Join(args, " "))
	return r.command(ctx, r.Path, args...)
}

// List returns the output of `dfu-util -l`.
func (r *Runner) List(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ListTimeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := r.cmd(ctx, "-l")
	cmd.Stdout = &stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "command %s -l failed", r.Path)
	}
	return stdout.String(), nil
}

// Flash writes filename to the Notecard with the given serial number. The
// output of dfu-util is passed through.
func (r *Runner) Flash(ctx context.Context, serial string, filename string, timeout time.Duration) error {
	listing, err := r.List(ctx)
	if err != nil {
		return err
	}
	args, err := BuildArgs(listing, serial, filename)
	if err != nil {
		r.Log.Debug(listing)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := r.cmd(ctx, args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "command %s %s failed", r.Path, strings.Join(args, " "))
	}
	return nil
}
