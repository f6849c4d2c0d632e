/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package server

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/microsoft/debugbridge/internal/protocol"
	"github.com/microsoft/debugbridge/internal/pubsub"
)

// EventSource runs while at least one client is connected, emitting events through emit.
// It must return when ctx is done.
type EventSource func(ctx context.Context, emit func(event string, payload any))

// Broadcaster encodes events once and fans the frames out to every connected client.
// It implements execstate.Emitter.
type Broadcaster struct {
	subs *pubsub.SubscriptionSet[[]byte]
	log  logr.Logger
	now  func() time.Time
}

// NewBroadcaster creates a broadcaster. Subscriptions never outlive lifetimeCtx.
// The optional source is started with the first subscription and stopped after the last one is cancelled.
func NewBroadcaster(lifetimeCtx context.Context, log logr.Logger, source EventSource) *Broadcaster {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	b := &Broadcaster{log: log, now: time.Now}

	var notifier pubsub.NotifierFunc[[]byte]
	if source != nil {
		notifier = func(ctx context.Context, _ *pubsub.SubscriptionSet[[]byte]) {
			source(ctx, b.Emit)
		}
	}
	b.subs = pubsub.NewSubscriptionSet(notifier, lifetimeCtx)
	return b
}

func (b *Broadcaster) Emit(event string, payload any) {
	ev, eventErr := protocol.NewEvent(event, payload, b.now())
	if eventErr != nil {
		b.log.Error(eventErr, "Could not create event", "Event", event)
		return
	}
	frame, encodeErr := protocol.Encode(ev)
	if encodeErr != nil {
		b.log.Error(encodeErr, "Could not encode event", "Event", event)
		return
	}

	b.log.V(1).Info("Broadcasting event", "Event", event, "Subscribers", b.subs.Len())
	b.subs.Notify(frame)
}

func (b *Broadcaster) Subscribe() *pubsub.Subscription[[]byte] {
	return b.subs.Subscribe()
}

func (b *Broadcaster) Subscribers() int {
	return b.subs.Len()
}

func (b *Broadcaster) Close() {
	b.subs.CancelAll()
}
