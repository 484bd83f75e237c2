/*
 * Copyright 2020 Brightgate Inc.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at https://mozilla.org/MPL/2.0/.
 */

// Package daemonutils builds the zap loggers used by the command line tools.
package daemonutils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/ssh/terminal"
)

// LogType selects the encoder: human-readable console output for
// development, JSON for production.
type LogType string

// Supported LogType values.  LogTypeAuto picks dev on a terminal and prod
// otherwise.
const (
	LogTypeAuto LogType = ""
	LogTypeDev  LogType = "dev"
	LogTypeProd LogType = "prod"
)

func (l *LogType) String() string {
	if *l == LogTypeDev {
		return "development"
	} else if *l == LogTypeProd {
		return "production"
	}
	return "auto"
}

// Set implements pflag.Value.
func (l *LogType) Set(s string) error {
	ss := strings.ToLower(s)
	if len(ss) > 3 {
		ss = ss[0:3]
	}
	switch ss {
	case "dev":
		*l = LogTypeDev
	case "pro":
		*l = LogTypeProd
	case "aut":
		*l = LogTypeAuto
	default:
		return fmt.Errorf("unknown log type '%s'.  Try [dev|prod]", s)
	}
	return nil
}

// Type implements pflag.Value.
func (l *LogType) Type() string {
	return "logtype"
}

// LevelFlag adapts zapcore.Level to pflag.Value.
type LevelFlag struct {
	zapcore.Level
}

// Type implements pflag.Value.
func (l *LevelFlag) Type() string {
	return "level"
}

func (l LogType) resolve() LogType {
	if l != LogTypeAuto {
		return l
	}
	if terminal.IsTerminal(int(os.Stderr.Fd())) {
		return LogTypeDev
	}
	return LogTypeProd
}

func zapTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006/01/02 15:04:05"))
}

// NewLogger returns a sugared logger of the given type, logging at level.
func NewLogger(lt LogType, level zapcore.Level) (*zap.SugaredLogger, error) {
	var config zap.Config

	lt = lt.resolve()
	if lt == LogTypeDev {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.EncoderConfig.EncodeTime = zapTimeEncoder
		config.DisableStacktrace = true
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.Level = zap.NewAtomicLevelAt(level)

	log, err := config.Build()
	if err != nil {
		return nil, err
	}
	log.Debug(fmt.Sprintf("Zap %s logging at %s", lt, level))
	return log.Sugar(), nil
}
