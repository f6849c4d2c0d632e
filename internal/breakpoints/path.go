/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package breakpoints

import (
	"strings"
)

func NormalizePath(path string) string {
	return strings.ReplaceAll(path, `\`, "/")
}

// PathsMatch reports whether two source paths refer to the same file: they are equal after normalization,
// or one is a trailing path of the other (starting at a '/' boundary).
// This tolerates absolute paths reported by a debugger against relative paths given by a user,
// but it cannot tell apart different files that share the same trailing segments.
func PathsMatch(a, b string) bool {
	a, b = NormalizePath(a), NormalizePath(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if len(a) < len(b) {
		a, b = b, a
	}
	return strings.HasSuffix(a, b) && (strings.HasPrefix(b, "/") || a[len(a)-len(b)-1] == '/')
}
