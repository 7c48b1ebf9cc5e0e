// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycore/workstation/internal/protocol"
)

type fakeAppender struct {
	appended []protocol.SequencedOutputEvent
}

func (f *fakeAppender) Append(_ context.Context, _, _, _ string, evt protocol.SequencedOutputEvent) error {
	f.appended = append(f.appended, evt)
	return nil
}

func TestSubscribeIsIdempotent(t *testing.T) {
	r := New(nil, nil)

	_, err := r.Subscribe("claude-1", "device-1")
	require.NoError(t, err)
	_, err = r.Subscribe("claude-1", "device-1")
	require.NoError(t, err)

	r.mu.RLock()
	edges := len(r.bySession["claude-1"])
	r.mu.RUnlock()
	assert.Equal(t, 1, edges)
}

func TestBroadcastAssignsStrictlyIncreasingSequence(t *testing.T) {
	r := New(nil, nil)
	app := &fakeAppender{}
	r.RegisterSession("claude-1", app)

	for i := 0; i < 5; i++ {
		seq, err := r.Broadcast(context.Background(), "claude-1", "m-1", "assistant", protocol.SequencedOutputEvent{ContentType: "text"})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), seq)
	}
	assert.Len(t, app.appended, 5)
}

func TestSubscribedDeviceReceivesBroadcastInOrder(t *testing.T) {
	r := New(nil, nil)
	r.RegisterSession("claude-1", &fakeAppender{})

	_, err := r.Subscribe("claude-1", "device-1")
	require.NoError(t, err)

	dev := r.devices["device-1"]

	for i := 0; i < 3; i++ {
		_, err := r.Broadcast(context.Background(), "claude-1", "m-1", "assistant", protocol.SequencedOutputEvent{ContentType: "text"})
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		select {
		case evt := <-dev.Out():
			assert.Equal(t, int64(i+1), evt.Sequence)
		case <-time.After(time.Second):
			t.Fatal("expected event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := New(nil, nil)
	r.RegisterSession("claude-1", &fakeAppender{})
	_, err := r.Subscribe("claude-1", "device-1")
	require.NoError(t, err)

	r.Unsubscribe("claude-1", "device-1")

	_, err = r.Broadcast(context.Background(), "claude-1", "m-1", "assistant", protocol.SequencedOutputEvent{ContentType: "text"})
	require.NoError(t, err)

	dev := r.devices["device-1"]
	select {
	case <-dev.Out():
		t.Fatal("did not expect delivery after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeAllDropsAllDevices(t *testing.T) {
	r := New(nil, nil)
	r.RegisterSession("claude-1", &fakeAppender{})
	_, err := r.Subscribe("claude-1", "device-1")
	require.NoError(t, err)
	_, err = r.Subscribe("claude-1", "device-2")
	require.NoError(t, err)

	r.UnsubscribeAll("claude-1")

	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Empty(t, r.bySession["claude-1"])
	assert.Empty(t, r.byDevice["device-1"])
	assert.Empty(t, r.byDevice["device-2"])
}

func TestReplayReturnsEventsAtOrAfterSequence(t *testing.T) {
	r := New(nil, nil)
	r.RegisterSession("claude-1", &fakeAppender{})
	for i := 0; i < 5; i++ {
		_, err := r.Broadcast(context.Background(), "claude-1", "m-1", "assistant", protocol.SequencedOutputEvent{ContentType: "text"})
		require.NoError(t, err)
	}

	events, hasMore := r.Replay("claude-1", 3, 100)
	require.Len(t, events, 3)
	assert.Equal(t, int64(3), events[0].Sequence)
	assert.False(t, hasMore)
}

func TestBroadcastDropsSlowSubscriberOnOverflow(t *testing.T) {
	var dropped string
	r := New(nil, func(deviceID string) { dropped = deviceID })
	r.RegisterSession("claude-1", &fakeAppender{})
	_, err := r.Subscribe("claude-1", "device-1")
	require.NoError(t, err)

	for i := 0; i < subscriberBufferSize+10; i++ {
		_, err := r.Broadcast(context.Background(), "claude-1", "m-1", "assistant", protocol.SequencedOutputEvent{ContentType: "text"})
		require.NoError(t, err)
	}

	assert.Equal(t, "device-1", dropped)
}
