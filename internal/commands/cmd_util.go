/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strconv"

	"github.com/spf13/cobra"
)

func IsWindows() bool {
	return runtime.GOOS == "windows"
}

func WithNewline(b []byte) []byte {
	if IsWindows() {
		b = append(b, '\r')
	}
	b = append(b, '\n')
	return b
}

// writeJSON prints v as indented JSON. Raw JSON is re-indented rather than re-encoded.
func writeJSON(w io.Writer, v any) error {
	var out []byte
	if raw, isRaw := v.(json.RawMessage); isRaw {
		var buf bytes.Buffer
		if indentErr := json.Indent(&buf, raw, "", "  "); indentErr != nil {
			return fmt.Errorf("response is not valid JSON: %w", indentErr)
		}
		out = buf.Bytes()
	} else {
		var marshalErr error
		if out, marshalErr = json.MarshalIndent(v, "", "  "); marshalErr != nil {
			return marshalErr
		}
	}

	_, writeErr := w.Write(WithNewline(out))
	return writeErr
}

// writeJSONLine prints v as a single line of JSON, for streamed output.
func writeJSONLine(w io.Writer, v any) error {
	out, marshalErr := json.Marshal(v)
	if marshalErr != nil {
		return marshalErr
	}
	_, writeErr := w.Write(WithNewline(out))
	return writeErr
}

// optionalInt returns a pointer to value if the flag was set on the command line, nil otherwise.
func optionalInt(cmd *cobra.Command, flagName string, value int) *int {
	if !cmd.Flags().Changed(flagName) {
		return nil
	}
	return &value
}

func parseLines(args []string) ([]int, error) {
	lines := make([]int, len(args))
	for i, arg := range args {
		line, parseErr := strconv.Atoi(arg)
		if parseErr != nil {
			return nil, fmt.Errorf("'%s' is not a valid line number", arg)
		}
		lines[i] = line
	}
	return lines, nil
}
