/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package breakpoints

import (
	"strings"
)

// Kind tells how the free-text condition of a breakpoint is interpreted.
type Kind string

const (
	KindUnconditional Kind = "unconditional"
	KindCondition     Kind = "condition"
	KindHitCondition  Kind = "hitCondition"
	KindLogMessage    Kind = "logMessage"
)

var hitConditionPrefixes = []string{">=", "<=", "==", "!=", ">", "<", "%"}

// Classify decides what a condition text means. The first matching rule wins:
//   - text containing both '{' and '}' is a log message (interpolated, does not stop),
//   - text starting with a comparator or '%' is a hit count condition,
//   - any other non-blank text is an expression condition,
//   - blank text means the breakpoint is unconditional.
func Classify(text string) Kind {
	if strings.Contains(text, "{") && strings.Contains(text, "}") {
		return KindLogMessage
	}

	trimmed := strings.TrimSpace(text)
	for _, prefix := range hitConditionPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return KindHitCondition
		}
	}

	if trimmed != "" {
		return KindCondition
	}
	return KindUnconditional
}
