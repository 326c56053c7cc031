// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package notehub

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ValidationError is returned when a firmware payload does not match its
// descriptor.
type ValidationError struct {
	Property string
	Expected string
	Actual   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload %s %s differs from expected %s", e.Property, e.Actual, e.Expected)
}

func checkPayload(payload []byte, length int, md5sum string) error {
	if len(payload) != length {
		return &ValidationError{Property: "length", Expected: fmt.Sprint(length), Actual: fmt.Sprint(len(payload))}
	}
	if md5sum == "" {
		return &ValidationError{Property: "MD5", Expected: "(unknown)", Actual: "(unchecked)"}
	}
	sum := md5.Sum(payload)
	if actual := hex.EncodeToString(sum[:]); actual != md5sum {
		return &ValidationError{Property: "MD5", Expected: md5sum, Actual: actual}
	}
	return nil
}

// Validate decodes the payload and checks it against the announced length
// and MD5.
func (d *Download) Validate() ([]byte, error) {
	payload, err := base64.StdEncoding.DecodeString(d.Payload)
	if err != nil {
		return nil, errors.Wrap(err, "malformed firmware payload")
	}
	if err := checkPayload(payload, d.Firmware.Length, d.MD5); err != nil {
		return nil, err
	}
	return payload, nil
}

// Cache stores downloaded firmware next to a .json descriptor.
type Cache struct {
	Dir string
}

func (c Cache) Path(name string) string {
	return filepath.Join(c.Dir, filepath.Base(name))
}

func (c Cache) DescriptorPath(name string) string {
	return c.Path(name) + ".json"
}

// Valid reports whether the cached copy of fw matches its length and MD5.
// Without an MD5 from Notehub the one saved in the descriptor is used. A copy
// whose MD5 is not known is never valid.
func (c Cache) Valid(fw Firmware) bool {
	payload, err := os.ReadFile(c.Path(fw.Name))
	if err != nil {
		return false
	}
	md5sum := fw.MD5
	if md5sum == "" {
		md5sum = c.savedMD5(fw.Name)
	}
	return checkPayload(payload, fw.Length, md5sum) == nil
}

func (c Cache) savedMD5(name string) string {
	b, err := os.ReadFile(c.DescriptorPath(name))
	if err != nil {
		return ""
	}
	var descriptor struct {
		MD5 string `json:"md5"`
	}
	if err := json.Unmarshal(b, &descriptor); err != nil {
		return ""
	}
	return descriptor.MD5
}

func (c Cache) Save(name string, payload []byte, descriptor map[string]interface{}) error {
	if c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(c.Path(name), payload, 0644); err != nil {
		return errors.Wrapf(err, "failed to write firmware '%s'", c.Path(name))
	}
	b, err := json.Marshal(descriptor)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.DescriptorPath(name), b, 0644); err != nil {
		return errors.Wrapf(err, "failed to write firmware descriptor '%s'", c.DescriptorPath(name))
	}
	return nil
}

// Fetch makes sure the named firmware is in the cache and returns its path.
// Nothing is downloaded if the cached copy is valid.
func (c *Client) Fetch(ctx context.Context, cache Cache, name string) (string, error) {
	fw, err := c.QueryFirmware(ctx, name)
	if err != nil {
		return "", err
	}
	path := cache.Path(name)
	if cache.Valid(fw) {
		c.Log.Infof("Firmware %s already up to date", path)
		return path, nil
	}

	d, err := c.download(ctx, fw)
	if err != nil {
		return "", err
	}
	payload, err := d.Validate()
	if err != nil {
		return "", err
	}
	if err := cache.Save(name, payload, d.Descriptor); err != nil {
		return "", err
	}
	c.Log.Infof("Saved firmware to %s", path)
	return path, nil
}
