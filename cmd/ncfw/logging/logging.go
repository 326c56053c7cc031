// Copyright (C) 2024 The ncfw Authors. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package logging builds the logger used by ncfw. Every line is prefixed with
// the seconds elapsed since the logger was created.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ElapsedFormatter formats entries as "[  12.3] message key=value".
type ElapsedFormatter struct {
	Start time.Time
}

func (f *ElapsedFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	elapsed := entry.Time.Sub(f.Start).Seconds()
	fmt.Fprintf(&b, "[%6.1f] ", elapsed)
	if entry.Level != logrus.InfoLevel {
		fmt.Fprintf(&b, "%s: ", entry.Level)
	}
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

type Option func(*logrus.Logger)

// WithNow sets the source of entry timestamps.
func WithNow(now func() time.Time) Option {
	return func(l *logrus.Logger) {
		l.AddHook(nowHook(now))
	}
}

type nowHook func() time.Time

func (h nowHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h nowHook) Fire(entry *logrus.Entry) error {
	entry.Time = h()
	return nil
}

// New returns a logger writing to out. Debug entries are only written when
// debug is set.
func New(out io.Writer, start time.Time, debug bool, opts ...Option) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&ElapsedFormatter{Start: start})
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	for _, opt := range opts {
		opt(log)
	}
	return log
}
