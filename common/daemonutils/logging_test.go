/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

package daemonutils

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	assert := require.New(t)

	for _, lt := range []LogType{LogTypeAuto, LogTypeDev, LogTypeProd} {
		log, err := NewLogger(lt, zapcore.DebugLevel)
		assert.NoError(err)
		assert.NotNil(log)
	}
}

func TestLogType(t *testing.T) {
	assert := require.New(t)

	var l LogType
	for _, v := range []string{"dev", "DEV", "Development", "pro", "prod", "PRODUCTION"} {
		assert.NoError(l.Set(v), v)
		assert.True(l == LogTypeDev || l == LogTypeProd)
	}
	assert.NoError(l.Set("auto"))
	assert.Equal("auto", l.String())
	assert.Error(l.Set("foo"))
	assert.Error(l.Set(""))
}

func TestLevelFlag(t *testing.T) {
	assert := require.New(t)

	var lf LevelFlag
	assert.NoError(lf.Set("warn"))
	assert.Equal(zapcore.WarnLevel, lf.Level)
	assert.Equal("warn", lf.String())
	assert.Equal("level", lf.Type())
	assert.Error(lf.Set("chatty"))
}
