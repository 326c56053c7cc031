// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package notehub queries and downloads Notecard firmware from Notehub.
package notehub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	hub "github.com/blues/note-go/notehub"
	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const DefaultURL = "https://api.notefile.net"

// Client sends requests to the Notehub request endpoint.
type Client struct {
	URL   string
	Token string
	HTTP  *http.Client
	Log   logrus.FieldLogger
	// Progress, when set, receives a progress bar for firmware downloads.
	Progress io.Writer
}

func NewClient(url string, token string, log logrus.FieldLogger) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		URL:   strings.TrimSuffix(url, "/"),
		Token: token,
		HTTP:  http.DefaultClient,
		Log:   log,
	}
}

// RequestError is returned when Notehub answers with a non-2xx status.
type RequestError struct {
	Request    string
	StatusCode int
	Status     string
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s failed: %s: %s", e.Request, e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, req map[string]interface{}, progress bool) (map[string]interface{}, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprint(req["req"])
	c.Log.WithField("req", name).Debug("sending Notehub request")

	// Notehub reads the request from the body of a GET.
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL+"/req", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "%s failed", name)
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	if progress && c.Progress != nil {
		bar := pb.New64(resp.ContentLength)
		bar.Set(pb.Bytes, true)
		bar.SetWriter(c.Progress)
		bar.Start()
		defer bar.Finish()
		r = bar.NewProxyReader(resp.Body)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "%s failed", name)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestError{Request: name, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(data)}
	}

	var res map[string]interface{}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrapf(err, "malformed %s response", name)
	}
	if msg, ok := res["err"].(string); ok && msg != "" {
		return nil, errors.Errorf("%s failed: %s", name, msg)
	}
	return res, nil
}

func uploadRequest(name string) map[string]interface{} {
	return map[string]interface{}{
		"req":  name,
		"type": string(hub.UploadTypeNotecardFirmware),
	}
}

// ListFirmware returns the Notecard firmware published on Notehub. allow
// includes unpublished firmware.
func (c *Client) ListFirmware(ctx context.Context, allow bool, version string) ([]Firmware, error) {
	req := uploadRequest("hub.upload.query")
	req["allow"] = allow
	if version != "" {
		req["version"] = version
	}
	rsp, err := c.do(ctx, req, false)
	if err != nil {
		return nil, errors.Wrap(err, "unable to retrieve firmware list")
	}
	uploads, _ := rsp["uploads"].([]interface{})
	return decodeFirmwareList(uploads)
}

// QueryFirmware returns the descriptor of the named firmware.
func (c *Client) QueryFirmware(ctx context.Context, name string) (Firmware, error) {
	req := uploadRequest("hub.upload.get")
	req["allow"] = true
	req["name"] = name
	rsp, err := c.do(ctx, req, false)
	if err != nil {
		return Firmware{}, errors.Wrapf(err, "unable to retrieve firmware info for %s", name)
	}
	body, ok := rsp["body"].(map[string]interface{})
	if !ok || len(body) == 0 {
		return Firmware{}, errors.Errorf("Notecard firmware not found matching name %s", name)
	}
	fw, err := decodeFirmware(body)
	if err != nil {
		return fw, err
	}
	if fw.MD5 == "" {
		fw.MD5, _ = rsp["md5"].(string)
	}
	if fw.Name == "" {
		fw.Name = name
	}
	return fw, nil
}

type Query struct {
	// Name selects firmware by name. The other fields are ignored when set.
	Name    string
	Version string
	Target  string
	Allow   bool
}

// FindFirmware returns the firmware selected by q.
func (c *Client) FindFirmware(ctx context.Context, q Query) (Firmware, error) {
	if q.Name != "" {
		return c.QueryFirmware(ctx, q.Name)
	}
	list, err := c.ListFirmware(ctx, q.Allow, "")
	if err != nil {
		return Firmware{}, err
	}
	return Select(list, q.Version, q.Target)
}

// Download is a firmware payload as returned by Notehub, not yet validated.
type Download struct {
	Firmware Firmware
	MD5      string
	Payload  string
	// Descriptor is the response without the payload.
	Descriptor map[string]interface{}
}

// DownloadFirmware fetches the named firmware. Notehub returns the payload
// only when asked for the length announced by the descriptor.
func (c *Client) DownloadFirmware(ctx context.Context, name string) (*Download, error) {
	fw, err := c.QueryFirmware(ctx, name)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, fw)
}

func (c *Client) download(ctx context.Context, fw Firmware) (*Download, error) {
	name := fw.Name
	if fw.Length == 0 {
		return nil, errors.Errorf("no length given for firmware %s", name)
	}

	req := uploadRequest("hub.upload.get")
	req["name"] = name
	req["length"] = fw.Length
	c.Log.Infof("Downloading %s (%d bytes)", name, fw.Length)
	rsp, err := c.do(ctx, req, true)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to retrieve Notecard firmware %s", name)
	}

	body, ok := rsp["body"].(map[string]interface{})
	if !ok || len(body) == 0 {
		return nil, missingProperty("body", rsp)
	}
	md5, _ := rsp["md5"].(string)
	if md5 == "" {
		return nil, missingProperty("md5", rsp)
	}
	payload, _ := rsp["payload"].(string)
	if payload == "" {
		return nil, missingProperty("payload", rsp)
	}
	downloaded, err := decodeFirmware(body)
	if err != nil {
		return nil, err
	}
	if downloaded.Length == 0 {
		return nil, missingProperty("length", body)
	}

	descriptor := map[string]interface{}{}
	for k, v := range rsp {
		if k != "payload" {
			descriptor[k] = v
		}
	}
	return &Download{
		Firmware:   downloaded,
		MD5:        md5,
		Payload:    payload,
		Descriptor: descriptor,
	}, nil
}

func missingProperty(name string, in map[string]interface{}) error {
	s := fmt.Sprint(in)
	if len(s) > 500 {
		s = s[:500]
	}
	return errors.Errorf("no '%s' property in %s", name, s)
}
