// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package directory

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	// UserConfigPathEnv if set, will load the user config from that path.
	UserConfigPathEnv = "NCFW_USER_CONFIG_PATH"
	// FirmwareCachePathEnv if set, downloaded firmware is stored there.
	FirmwareCachePathEnv = "NCFW_FIRMWARE_CACHE_PATH"
	// DfuUtilPathEnv: Path to the dfu-util binary.
	DfuUtilPathEnv = "NCFW_DFU_UTIL_PATH"
	// NotehubURLEnv if set will use this Notehub.
	NotehubURLEnv = "NCFW_NOTEHUB_URL"
	// NotehubTokenEnv if set will authenticate with this token.
	NotehubTokenEnv = "NCFW_NOTEHUB_TOKEN"
)

// Keys of the user config.
const (
	PortKey         = "port"
	BaudKey         = "baud"
	NotehubURLKey   = "notehub.url"
	NotehubTokenKey = "notehub.token"
)

func GetUserConfigPath() (string, error) {
	if path, ok := os.LookupEnv(UserConfigPathEnv); ok {
		return path, nil
	}

	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homedir, ".config", "ncfw", "config.yaml"), nil
}

func GetFirmwareCachePath() (string, error) {
	path, ok := os.LookupEnv(FirmwareCachePathEnv)
	if ok {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return ensureDirectory(filepath.Join(home, ".cache", "ncfw", "firmware"), nil)
}

// GetDfuUtilPath returns the dfu-util binary, looked up in PATH unless
// DfuUtilPathEnv is set.
func GetDfuUtilPath() (string, error) {
	if path, ok := os.LookupEnv(DfuUtilPathEnv); ok {
		if stat, err := os.Stat(path); err != nil || stat.IsDir() {
			return "", errors.Errorf("the path '%s' did not hold dfu-util", path)
		}
		return path, nil
	}
	path, err := exec.LookPath(Executable("dfu-util"))
	if err != nil {
		return "", errors.Wrapf(err, "dfu-util not found, install it or set %s", DfuUtilPathEnv)
	}
	return path, nil
}

func ensureDirectory(dir string, err error) (string, error) {
	if err != nil {
		return dir, err
	}
	return dir, os.MkdirAll(dir, 0755)
}

func GetUserConfig() (*viper.Viper, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user config path")
	}

	cfg := viper.New()
	cfg.SetConfigType("yaml")
	cfg.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, "failed to read user config")
		}
	}
	return cfg, nil
}

// GetNotehubURL returns the configured Notehub, empty for the default.
func GetNotehubURL(cfg *viper.Viper) string {
	if url, ok := os.LookupEnv(NotehubURLEnv); ok {
		return url
	}
	return cfg.GetString(NotehubURLKey)
}

func GetNotehubToken(cfg *viper.Viper) string {
	if token, ok := os.LookupEnv(NotehubTokenEnv); ok {
		return token
	}
	return cfg.GetString(NotehubTokenKey)
}

func WriteConfig(cfg *viper.Viper) error {
	file := cfg.ConfigFileUsed()
	dir := filepath.Dir(file)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmpFile := filepath.Join(filepath.Dir(file), ".config.tmp.yaml")
	if err := cfg.WriteConfigAs(tmpFile); err != nil {
		return err
	}
	defer os.Remove(tmpFile)

	return os.Rename(tmpFile, file)
}

func Executable(str string) string {
	if runtime.GOOS == "windows" {
		return str + ".exe"
	}
	return str
}
