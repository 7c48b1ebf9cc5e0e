// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDurationReturnsDefaultWhenEmpty(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseDuration("", 5*time.Second))
}

func TestParseDurationParsesValidString(t *testing.T) {
	assert.Equal(t, 10*time.Second, ParseDuration("10s", time.Minute))
}

func TestParseDurationReturnsDefaultOnInvalidString(t *testing.T) {
	assert.Equal(t, time.Minute, ParseDuration("not-a-duration", time.Minute))
}
