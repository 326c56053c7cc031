// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/notecard-tools/ncfw/cmd/ncfw/directory"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.bug.st/serial"
)

func SetPortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "set-port",
		Short:        "Select the serial port your Notecard is attached to",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := cmd.Flags().GetBool("all")
			if err != nil {
				return err
			}

			cfg, err := GetConfig()
			if err != nil {
				return err
			}

			_, err = GetPort(cfg, all, true)
			return err
		},
	}

	cmd.Flags().Bool("all", false, "if set, will show all available ports")
	return cmd
}

func PortExists(port string) (bool, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return false, err
	}
	for _, p := range ports {
		if p == port {
			return true, nil
		}
	}
	return false, nil
}

func ConfiguredPort() string {
	cfg, err := GetConfig()
	if err != nil {
		return ""
	}
	return cfg.GetString(directory.PortKey)
}

// CheckPort returns port if it exists, and otherwise lets the user pick one.
func CheckPort(port string) (string, error) {
	if port != "" {
		exists, err := PortExists(port)
		if err != nil {
			return "", err
		}
		if exists {
			return port, nil
		}
		fmt.Printf("Serial port '%s' not found.\n", port)
	}

	cfg, err := GetConfig()
	if err != nil {
		return "", err
	}

	return GetPort(cfg, false, true)
}

// GetPort lets the user pick a serial port and stores it in the user config
// if save is set.
func GetPort(cfg *viper.Viper, all bool, save bool) (string, error) {
	port, err := pickPort(all)
	if err != nil {
		return "", err
	}
	if save {
		cfg.Set(directory.PortKey, port)
		if err := directory.WriteConfig(cfg); err != nil {
			return "", errors.Wrap(err, "failed to save the serial port")
		}
	}
	return port, nil
}

func pickPort(all bool) (string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return "", err
	}
	if !all {
		ports = filterPorts(ports)
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports detected. Is the Notecard connected over USB?")
	}

	prompt := promptui.Select{
		Label:     "Choose the serial port of your Notecard",
		Items:     ports,
		Templates: &promptui.SelectTemplates{},
	}

	i, _, err := prompt.Run()
	if err != nil {
		return "", errors.New("you didn't select anything")
	}

	return ports[i], nil
}

func filterPorts(ports []string) []string {
	switch runtime.GOOS {
	case "darwin":
		return darwinFilterPaths(ports)
	case "linux":
		return linuxFilterPaths(ports)
	default:
		return ports
	}
}

func darwinFilterPaths(paths []string) []string {
	existing := map[string]struct{}{}
	for _, p := range paths {
		existing[p] = struct{}{}
	}
	var res []string
	for _, path := range paths {
		if strings.HasPrefix(path, "/dev/cu") && !strings.Contains(path, "Bluetooth") {
			res = append(res, path)
		} else if strings.HasPrefix(path, "/dev/tty") && !strings.Contains(path, "Bluetooth") {
			candidate := "/dev/cu" + strings.TrimPrefix(path, "/dev/tty")
			if _, exists := existing[candidate]; !exists {
				res = append(res, path)
			}
		}
	}
	return res
}

// The Notecard enumerates as a CDC ACM device, so any ttyACM port qualifies.
func linuxFilterPaths(paths []string) []string {
	res := []string(nil)
	for _, path := range paths {
		if strings.Contains(path, "tty") {
			if strings.Contains(path, "USB") || strings.Contains(path, "ACM") {
				res = append(res, path)
			}
		}
	}
	return res
}
