/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package pubsub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/smallnest/chanx"
)

type HandleT uint32

const (
	InvalidHandle HandleT = 0

	queueInitialCapacity = 16
)

var (
	nextHandle atomic.Uint32
)

// Subscription delivers notifications through an unbounded queue,
// so a slow subscriber never blocks the publisher or other subscribers.
type Subscription[NotificationT any] struct {
	Handle HandleT
	queue  *chanx.UnboundedChan[NotificationT]
	ctx    context.Context
	owner  *SubscriptionSet[NotificationT]
	lock   *sync.Mutex
}

func newSubscription[NotificationT any](ctx context.Context, owner *SubscriptionSet[NotificationT]) *Subscription[NotificationT] {
	return &Subscription[NotificationT]{
		Handle: HandleT(nextHandle.Add(1)),
		queue:  chanx.NewUnboundedChan[NotificationT](ctx, queueInitialCapacity),
		ctx:    ctx,
		owner:  owner,
		lock:   &sync.Mutex{},
	}
}

// Notifications returns the channel notifications are delivered on.
// It is closed (after pending notifications are delivered) when the subscription is cancelled.
func (s *Subscription[NotificationT]) Notifications() <-chan NotificationT {
	return s.queue.Out
}

func (s *Subscription[NotificationT]) Cancel() {
	s.lock.Lock()

	handle := s.Handle
	if handle != InvalidHandle {
		// Make sure onSubscriptionCancelled is called after the subscription lock is released.
		defer s.owner.onSubscriptionCancelled(handle)
	}
	defer s.lock.Unlock()

	if handle != InvalidHandle {
		s.Handle = InvalidHandle
		close(s.queue.In)
	}
}

// Notify queues a notification. It is a no-op if the subscription has been cancelled.
func (s *Subscription[NotificationT]) Notify(n NotificationT) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.Handle == InvalidHandle {
		return
	}

	select {
	case s.queue.In <- n:
	case <-s.ctx.Done():
	}
}

func (s *Subscription[NotificationT]) Cancelled() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.Handle == InvalidHandle
}
