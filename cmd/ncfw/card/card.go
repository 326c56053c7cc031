// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package card issues request/response transactions against a Notecard.
package card

import (
	"fmt"
	"reflect"

	"github.com/blues/note-go/note"
	"github.com/blues/note-go/notecard"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const (
	ModeCompleted = "completed"
	ModeError     = "error"

	// Environment variables Notehub watches to relay a firmware update.
	EnvFirmware      = "_fwc"
	EnvFirmwareRetry = "_fwc_retry"
)

// Transactor performs a single JSON request/response exchange.
// *notecard.Context satisfies it.
type Transactor interface {
	Transaction(req map[string]interface{}) (map[string]interface{}, error)
}

type Request map[string]interface{}

type Response map[string]interface{}

// Err returns the error reported by the Notecard, or the empty string.
func (r Response) Err() string {
	if r == nil {
		return ""
	}
	s, ok := r["err"].(string)
	if !ok {
		if v, present := r["err"]; present && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	return s
}

// Status is the body of a dfu.status response.
type Status map[string]interface{}

func (s Status) Mode() string {
	mode, _ := s["mode"].(string)
	return mode
}

// Equal reports whether every field of s matches other.
func (s Status) Equal(other Status) bool {
	return reflect.DeepEqual(s, other)
}

type VersionInfo struct {
	Version string `mapstructure:"version" yaml:"version" json:"version"`
	Device  string `mapstructure:"device" yaml:"device" json:"device"`
	Name    string `mapstructure:"name" yaml:"name" json:"name"`
	SKU     string `mapstructure:"sku" yaml:"sku" json:"sku"`
	Board   string `mapstructure:"board" yaml:"board" json:"board"`
}

// TransactionError is returned when the Notecard answers with an error field.
type TransactionError struct {
	Request  Request
	Response Response
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%v failed: %s", e.Request["req"], e.Response.Err())
}

// Card is a Notecard connection. Only one transaction is in flight at a time.
type Card struct {
	t  Transactor
	nc *notecard.Context
}

func New(t Transactor) *Card {
	return &Card{t: t}
}

// OpenSerial opens a Notecard attached to the given serial port.
func OpenSerial(port string, baud int) (*Card, error) {
	nc, err := notecard.OpenSerial(port, baud)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open Notecard on '%s'", port)
	}
	return &Card{t: nc, nc: nc}, nil
}

func (c *Card) Close() error {
	if c.nc != nil {
		c.nc.Close()
		c.nc = nil
	}
	return nil
}

// Transact sends req and returns the response. A response carrying an err
// field yields a *TransactionError.
func (c *Card) Transact(req Request) (Response, error) {
	rsp, err := c.t.Transaction(req)
	res := Response(rsp)
	if res.Err() != "" {
		return res, &TransactionError{Request: req, Response: res}
	}
	if err != nil {
		return res, errors.Wrapf(err, "%v transaction failed", req["req"])
	}
	return res, nil
}

func (c *Card) Version() (VersionInfo, error) {
	var info VersionInfo
	rsp, err := c.Transact(Request{"req": "card.version"})
	if err != nil {
		return info, err
	}
	if err := mapstructure.Decode(map[string]interface{}(rsp), &info); err != nil {
		return info, errors.Wrap(err, "malformed card.version response")
	}
	return info, nil
}

func (c *Card) DFUStatus() (Status, error) {
	rsp, err := c.Transact(Request{"req": "dfu.status", "name": "card"})
	if err != nil {
		return nil, err
	}
	return Status(rsp), nil
}

// SetDFU enables or disables Notecard firmware updates.
func (c *Card) SetDFU(on bool) error {
	req := Request{"req": "dfu.status", "name": "card"}
	if on {
		req["on"] = true
	} else {
		req["off"] = true
	}
	_, err := c.Transact(req)
	return err
}

func (c *Card) Sync() error {
	_, err := c.Transact(Request{"req": "hub.sync", "allow": true})
	return err
}

func (c *Card) SetEnv(name string, text string) error {
	_, err := c.Transact(Request{"req": "env.set", "name": name, "text": text})
	return err
}

// ClearEnv removes the variable by setting it without a value.
func (c *Card) ClearEnv(name string) error {
	_, err := c.Transact(Request{"req": "env.set", "name": name})
	return err
}

// IsIOError reports whether err stems from lost communication with the
// Notecard, which is expected while it restarts.
func IsIOError(err error) bool {
	return err != nil && note.ErrorContains(err, note.ErrCardIo)
}
