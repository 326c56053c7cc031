// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package dfuutil flashes Notecards in bootloader mode with dfu-util. The
// Notecard is identified by its USB serial number, which is its unique
// hardware id.
package dfuutil

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

const foundDFU = "Found DFU: "

// Address is where Notecard firmware is written.
const Address = "0x8000000"

// Region is one DFU interface reported by `dfu-util -l`, with the USB vendor
// and product ids added as "vid" and "pid".
type Region map[string]string

// NotecardR5 identifies the flash region of a Notecard R5 bootloader.
var NotecardR5 = Region{
	"vid":  "0483",
	"pid":  "df11",
	"name": "@Internal Flash  /0x08000000/512*0004Kg",
}

// Target returns the Notecard R5 flash region of the Notecard with the given
// serial number.
func Target(serial string) Region {
	target := Region{"serial": serial}
	for k, v := range NotecardR5 {
		target[k] = v
	}
	return target
}

// Matches reports whether r contains every key and value of needle.
func (r Region) Matches(needle Region) bool {
	for k, v := range needle {
		if got, ok := r[k]; !ok || got != v {
			return false
		}
	}
	return true
}

func (r Region) String() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, r[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func IsDFULine(line string) bool {
	return strings.HasPrefix(line, foundDFU)
}

// ParseDFULine parses a line such as
//
//	Found DFU: [0483:df11] ver=2200, devnum=5, alt=0, name="@Internal Flash", serial="205B3875594D"
//
// Quotes around values are removed.
func ParseDFULine(line string) (Region, error) {
	if !IsDFULine(line) {
		return nil, errors.Errorf("not a DFU line: '%s'", line)
	}
	rest := strings.TrimPrefix(line, foundDFU)
	if len(rest) < 11 || rest[0] != '[' || rest[5] != ':' || rest[10] != ']' {
		return nil, errors.Errorf("malformed vendor/product id in DFU line: '%s'", line)
	}

	region := Region{}
	for _, item := range strings.Split(rest[11:], ", ") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		kv := strings.SplitN(item, "=", 2)
		if len(kv) != 2 {
			return nil, errors.Errorf("malformed field '%s' in DFU line: '%s'", item, line)
		}
		region[strings.TrimSpace(kv[0])] = strings.Trim(strings.TrimSpace(kv[1]), `"`)
	}
	region["vid"] = rest[1:5]
	region["pid"] = rest[6:10]
	return region, nil
}

// ParseDFUOutput parses every DFU line in the output of `dfu-util -l`,
// ignoring all other lines.
func ParseDFUOutput(output string) ([]Region, error) {
	var res []Region
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if !IsDFULine(line) {
			continue
		}
		region, err := ParseDFULine(line)
		if err != nil {
			return nil, err
		}
		res = append(res, region)
	}
	return res, nil
}

type NoTargetError struct {
	Target  Region
	Regions []Region
}

func (e *NoTargetError) Error() string {
	return fmt.Sprintf("cannot find a DFU region matching %v in %v", e.Target, e.Regions)
}

type AmbiguousTargetError struct {
	Target  Region
	Matches []Region
}

func (e *AmbiguousTargetError) Error() string {
	return fmt.Sprintf("%v matches %d DFU regions: %v", e.Target, len(e.Matches), e.Matches)
}

// FindOne returns the single region matching target.
func FindOne(target Region, regions []Region) (Region, error) {
	var found []Region
	for _, r := range regions {
		if r.Matches(target) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return nil, &NoTargetError{Target: target, Regions: regions}
	case 1:
		return found[0], nil
	default:
		return nil, &AmbiguousTargetError{Target: target, Matches: found}
	}
}

// BuildArgs selects the flash region of the Notecard with the given serial
// number from the output of `dfu-util -l` and returns the dfu-util arguments
// that write filename to it.
func BuildArgs(listing string, serial string, filename string) ([]string, error) {
	regions, err := ParseDFUOutput(listing)
	if err != nil {
		return nil, err
	}
	region, err := FindOne(Target(serial), regions)
	if err != nil {
		return nil, err
	}
	return []string{
		"-n", region["devnum"],
		"-a", region["alt"],
		// leave makes the bootloader start the firmware when done.
		"-s", Address + ":leave",
		"-D", filename,
	}, nil
}
