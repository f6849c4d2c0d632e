/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

var namedLevels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

type LevelFlagValue struct {
	onLevelChanged func(zapcore.Level)
	value          string
}

func NewLevelFlagValue(onLevelChanged func(zapcore.Level)) LevelFlagValue {
	return LevelFlagValue{onLevelChanged: onLevelChanged}
}

// Parses a level name ("debug", "info", "warn", "error") or a positive debug verbosity (1, 2, ...).
// Verbosity N maps to zap level -N, which makes logr V(N-1) calls visible.
func StringToLevel(value string, defaultLevel zapcore.Level) (zapcore.Level, error) {
	if level, found := namedLevels[strings.ToLower(strings.TrimSpace(value))]; found {
		return level, nil
	}

	verbosity, err := strconv.Atoi(value)
	if err != nil || verbosity <= 0 || verbosity > 127 {
		return defaultLevel, fmt.Errorf("invalid log level \"%s\"", value)
	}
	return zapcore.Level(int8(-verbosity)), nil
}

func (lfv *LevelFlagValue) Set(flagValue string) error {
	level, err := StringToLevel(flagValue, zapcore.InfoLevel)
	if err != nil {
		return err
	}

	if lfv.onLevelChanged != nil {
		lfv.onLevelChanged(level)
	}
	lfv.value = flagValue
	return nil
}

func (lfv *LevelFlagValue) String() string {
	return lfv.value
}

func (*LevelFlagValue) Type() string {
	return "level"
}

// Returns the verbosity argument (e.g. "-v=debug") to pass to a child bridge process, if one was set.
func GetVerbosityArg(fs *pflag.FlagSet) string {
	if fs == nil {
		return ""
	}
	levelFlag := fs.Lookup(verbosityFlagName)
	if levelFlag == nil || levelFlag.Value.String() == "" {
		return ""
	}
	return fmt.Sprintf("-v=%s", levelFlag.Value.String())
}

var _ pflag.Value = &LevelFlagValue{}
