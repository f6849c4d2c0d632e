/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/debugbridge/pkg/testutil"
)

func receive[T any](t *testing.T, ctx context.Context, sub *Subscription[T]) T {
	t.Helper()
	select {
	case n, ok := <-sub.Notifications():
		require.True(t, ok, "notification channel was closed unexpectedly")
		return n
	case <-ctx.Done():
		t.Fatal("timed out waiting for a notification")
		var zero T
		return zero
	}
}

func TestNotifyReachesAllSubscribers(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	ss := NewSubscriptionSet[string](nil, ctx)
	first := ss.Subscribe()
	second := ss.Subscribe()
	require.Equal(t, 2, ss.Len())

	// Nobody reads while these are published; the queue must absorb them.
	for _, n := range []string{"a", "b", "c"} {
		ss.Notify(n)
	}

	for _, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, receive(t, ctx, first))
		assert.Equal(t, want, receive(t, ctx, second))
	}
}

func TestCancelledSubscriptionIsSkipped(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	ss := NewSubscriptionSet[int](nil, ctx)
	kept := ss.Subscribe()
	dropped := ss.Subscribe()

	dropped.Cancel()
	dropped.Cancel()
	assert.True(t, dropped.Cancelled())
	assert.Equal(t, 1, ss.Len())

	ss.Notify(7)
	assert.Equal(t, 7, receive(t, ctx, kept))

	select {
	case _, ok := <-dropped.Notifications():
		assert.False(t, ok, "cancelled subscription should not receive notifications")
	case <-ctx.Done():
		t.Fatal("cancelled subscription channel was not closed")
	}
}

func TestNotifierRunsWhileSubscribed(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	started := make(chan struct{})
	stopped := make(chan struct{})
	notifier := func(notifierCtx context.Context, ss *SubscriptionSet[string]) {
		close(started)
		ss.Notify("hello")
		<-notifierCtx.Done()
		close(stopped)
	}

	ss := NewSubscriptionSet(notifier, ctx)
	sub := ss.Subscribe()

	select {
	case <-started:
	case <-ctx.Done():
		t.Fatal("notifier was not started by the first subscription")
	}
	assert.Equal(t, "hello", receive(t, ctx, sub))

	sub.Cancel()
	select {
	case <-stopped:
	case <-ctx.Done():
		t.Fatal("notifier was not stopped when the last subscription was cancelled")
	}
}

func TestCancelAll(t *testing.T) {
	t.Parallel()
	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	ss := NewSubscriptionSet[int](nil, ctx)
	subs := []*Subscription[int]{ss.Subscribe(), ss.Subscribe()}

	ss.CancelAll()
	assert.Equal(t, 0, ss.Len())
	for _, sub := range subs {
		assert.True(t, sub.Cancelled())
	}
}
