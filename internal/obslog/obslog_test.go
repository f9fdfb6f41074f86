// Copyright 2024 The mirvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obslog

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewTagsRecordsWithSessionID(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logrus.InfoLevel)
	l.Infof("hello %s", "world")
	assert.Contains(t, buf.String(), "session_id=")
	assert.Contains(t, buf.String(), "hello world")
}

func TestWithAddsStructuredField(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logrus.InfoLevel)
	l.With("alloc_id", "alloc1").Warnf("leaked")
	out := buf.String()
	assert.Contains(t, out, "alloc_id=alloc1")
	assert.Contains(t, out, "leaked")
}

func TestDebugfSuppressedBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, logrus.InfoLevel)
	l.Debugf("should not appear")
	assert.Empty(t, buf.String())
}
