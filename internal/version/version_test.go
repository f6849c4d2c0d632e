/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBuildTimestamp(t *testing.T) {
	t.Parallel()

	assert.Nil(t, parseBuildTimestamp(""))
	assert.Nil(t, parseBuildTimestamp("yesterday"))

	fromSeconds := parseBuildTimestamp("1700000000")
	require.NotNil(t, fromSeconds)
	assert.Equal(t, int64(1700000000), fromSeconds.Unix())

	fromRFC := parseBuildTimestamp("2024-03-01T10:00:00Z")
	require.NotNil(t, fromRFC)
	assert.True(t, fromRFC.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}
