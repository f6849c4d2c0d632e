/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func TestRetryGetSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	val, err := RetryGet(context.Background(), backoff.NewConstantBackOff(time.Millisecond), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})

	require.NoError(t, err)
	require.Equal(t, 42, val)
	require.Equal(t, 3, attempts)
}

func TestRetryGetStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("boom")
	attempts := 0
	_, err := RetryGet(context.Background(), backoff.NewConstantBackOff(time.Millisecond), func() (string, error) {
		attempts++
		return "", Permanent(sentinel)
	})

	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, attempts, "permanent errors should not be retried")
}

func TestRetryReportsLastAttemptErrorOnTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attemptErr := errors.New("connection refused")
	_, err := RetryGet(ctx, backoff.NewConstantBackOff(5*time.Millisecond), func() (int, error) {
		return 0, attemptErr
	})

	require.ErrorIs(t, err, attemptErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProtectConvertsPanic(t *testing.T) {
	t.Parallel()

	err := Protect(logr.Discard(), func() {
		panic("handler exploded")
	})
	require.Error(t, err)
	require.True(t, IsPermanent(err))
	require.Contains(t, err.Error(), "handler exploded")

	require.NoError(t, Protect(logr.Discard(), func() {}))
}
