// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package notehub

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// DefaultTarget is assumed for firmware that does not name its target.
const DefaultTarget = "r5"

var ErrNoFirmware = errors.New("no firmware found")

// FirmwareInfo is the version information embedded in a firmware image.
type FirmwareInfo struct {
	Product  string `mapstructure:"product" yaml:"product,omitempty" json:"product,omitempty"`
	Version  string `mapstructure:"version" yaml:"version,omitempty" json:"version,omitempty"`
	Target   string `mapstructure:"target" yaml:"target,omitempty" json:"target,omitempty"`
	Built    string `mapstructure:"built" yaml:"built,omitempty" json:"built,omitempty"`
	VerMajor int    `mapstructure:"ver_major" yaml:"ver_major" json:"ver_major"`
	VerMinor int    `mapstructure:"ver_minor" yaml:"ver_minor" json:"ver_minor"`
	VerPatch int    `mapstructure:"ver_patch" yaml:"ver_patch" json:"ver_patch"`
	VerBuild int    `mapstructure:"ver_build" yaml:"ver_build" json:"ver_build"`

	// absent marks version components the descriptor did not carry.
	absent [4]bool
}

var versionKeys = [4]string{"ver_major", "ver_minor", "ver_patch", "ver_build"}

func (i FirmwareInfo) target() string {
	if i.Target == "" {
		return DefaultTarget
	}
	return i.Target
}

// Components returns major, minor, patch and build, stopping at the first
// component Notehub did not report.
func (i FirmwareInfo) Components() []int {
	all := []int{i.VerMajor, i.VerMinor, i.VerPatch, i.VerBuild}
	for n, absent := range i.absent {
		if absent {
			return all[:n]
		}
	}
	return all
}

func (i FirmwareInfo) semver() semver.Version {
	return semver.Version{
		Major: int64(i.VerMajor),
		Minor: int64(i.VerMinor),
		Patch: int64(i.VerPatch),
	}
}

// Firmware describes a firmware upload on Notehub.
type Firmware struct {
	Name     string       `mapstructure:"name" yaml:"name" json:"name"`
	Length   int          `mapstructure:"length" yaml:"length" json:"length"`
	MD5      string       `mapstructure:"md5" yaml:"md5,omitempty" json:"md5,omitempty"`
	Created  int64        `mapstructure:"created" yaml:"created,omitempty" json:"created,omitempty"`
	Info     FirmwareInfo `mapstructure:"firmware" yaml:"firmware" json:"firmware"`
	Released bool         `mapstructure:"released" yaml:"released,omitempty" json:"released,omitempty"`

	// Raw is the descriptor as Notehub returned it.
	Raw map[string]interface{} `mapstructure:"-" yaml:"-" json:"-"`
}

func (f Firmware) String() string {
	return fmt.Sprintf("%s (%s, %s)", f.Name, f.Info.Version, f.Info.target())
}

// Short implements the short output format.
func (f Firmware) Short() string {
	return f.Name
}

func decodeFirmware(raw map[string]interface{}) (Firmware, error) {
	var fw Firmware
	if err := mapstructure.WeakDecode(raw, &fw); err != nil {
		return fw, errors.Wrap(err, "malformed firmware descriptor")
	}
	info, _ := raw["firmware"].(map[string]interface{})
	for n, key := range versionKeys {
		_, ok := info[key]
		fw.Info.absent[n] = !ok
	}
	fw.Raw = raw
	return fw, nil
}

func decodeFirmwareList(raw []interface{}) ([]Firmware, error) {
	var res []Firmware
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("malformed firmware descriptor: %v", item)
		}
		fw, err := decodeFirmware(m)
		if err != nil {
			return nil, err
		}
		res = append(res, fw)
	}
	return res, nil
}

// ParseVersion parses a version prefix such as "5", "5.4" or "5.4.0.1234"
// into its numeric components. The empty string has no components.
func ParseVersion(version string) ([]int, error) {
	if version == "" {
		return nil, nil
	}
	var res []int
	for _, part := range strings.Split(version, ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Errorf("invalid version '%s', expected [<major>[.<minor>[.<patch>[.<build>]]]]", version)
		}
		res = append(res, n)
	}
	return res, nil
}

// MatchesVersionComponents reports whether every required component equals
// the actual component at the same position.
func MatchesVersionComponents(actual []int, required []int) bool {
	if len(required) > len(actual) {
		return false
	}
	for i, r := range required {
		if actual[i] != r {
			return false
		}
	}
	return true
}

// Filter returns the firmware built for target whose version starts with the
// given components. An empty target means DefaultTarget.
func Filter(firmware []Firmware, version []int, target string) []Firmware {
	if target == "" {
		target = DefaultTarget
	}
	var res []Firmware
	for _, fw := range firmware {
		if fw.Info.target() == target && MatchesVersionComponents(fw.Info.Components(), version) {
			res = append(res, fw)
		}
	}
	return res
}

func compare(a, b FirmwareInfo) int {
	if c := a.semver().Compare(b.semver()); c != 0 {
		return c
	}
	switch {
	case a.VerBuild < b.VerBuild:
		return -1
	case a.VerBuild > b.VerBuild:
		return 1
	}
	return 0
}

// Sort orders firmware from the highest version to the lowest.
func Sort(firmware []Firmware) {
	sort.SliceStable(firmware, func(i, j int) bool {
		return compare(firmware[i].Info, firmware[j].Info) > 0
	})
}

// Select returns the highest version firmware for target matching the
// version prefix.
func Select(firmware []Firmware, version string, target string) (Firmware, error) {
	components, err := ParseVersion(version)
	if err != nil {
		return Firmware{}, err
	}
	found := Filter(firmware, components, target)
	if len(found) == 0 {
		return Firmware{}, ErrNoFirmware
	}
	Sort(found)
	return found[0], nil
}
