/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package pubsub

import (
	"context"
	"maps"
	"slices"
	"sync"
)

type NotifierFunc[NotificationT any] func(ctx context.Context, ss *SubscriptionSet[NotificationT])

// The subscription set helps manage a set of subscriptions that share the same source of notifications.
type SubscriptionSet[NotificationT any] struct {
	// Called in a separate goroutine (the notifier goroutine) when the first subscription is added.
	// It monitors an additional source of notifications and calls Notify() on the set.
	// The passed-in context is canceled when the last subscription is cancelled.
	notifierFunc NotifierFunc[NotificationT]

	subscriptions map[HandleT]*Subscription[NotificationT]

	notifierCtxCancel context.CancelFunc

	// Parent of the notifier context and of every subscription queue.
	parentCtx context.Context

	mutex *sync.Mutex
}

func NewSubscriptionSet[NotificationT any](notifierFunc NotifierFunc[NotificationT], parentCtx context.Context) *SubscriptionSet[NotificationT] {
	ss := SubscriptionSet[NotificationT]{
		notifierFunc:  notifierFunc,
		subscriptions: make(map[HandleT]*Subscription[NotificationT]),
		parentCtx:     parentCtx,
		mutex:         &sync.Mutex{},
	}

	if ss.parentCtx == nil {
		ss.parentCtx = context.Background()
	}

	return &ss
}

func (ss *SubscriptionSet[NotificationT]) Subscribe() *Subscription[NotificationT] {
	sub := newSubscription(ss.parentCtx, ss)

	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	ss.subscriptions[sub.Handle] = sub

	if len(ss.subscriptions) == 1 && ss.notifierFunc != nil {
		notifierCtx, cancelFunc := context.WithCancel(ss.parentCtx)
		ss.notifierCtxCancel = cancelFunc
		go ss.notifierFunc(notifierCtx, ss)
	}

	return sub
}

// Notify delivers n to every current subscription.
func (ss *SubscriptionSet[NotificationT]) Notify(n NotificationT) {
	ss.mutex.Lock()
	currentSubs := slices.Collect(maps.Values(ss.subscriptions))
	ss.mutex.Unlock()

	for _, sub := range currentSubs {
		sub.Notify(n)
	}
}

func (ss *SubscriptionSet[NotificationT]) Len() int {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()
	return len(ss.subscriptions)
}

func (ss *SubscriptionSet[NotificationT]) CancelAll() {
	ss.mutex.Lock()
	if ss.notifierCtxCancel != nil {
		ss.notifierCtxCancel()
		ss.notifierCtxCancel = nil
	}
	currentSubs := slices.Collect(maps.Values(ss.subscriptions))
	clear(ss.subscriptions)
	ss.mutex.Unlock()

	for _, sub := range currentSubs {
		sub.Cancel()
	}
}

func (ss *SubscriptionSet[NotificationT]) onSubscriptionCancelled(handle HandleT) {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	before := len(ss.subscriptions)
	delete(ss.subscriptions, handle) // No-op if the handle does not exist.

	if before == 1 && len(ss.subscriptions) == 0 && ss.notifierCtxCancel != nil {
		// We removed the last subscription; stop the notifier goroutine.
		ss.notifierCtxCancel()
		ss.notifierCtxCancel = nil
	}
}
