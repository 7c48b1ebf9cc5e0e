// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"

	"github.com/relaycore/workstation/internal/history"
	"github.com/relaycore/workstation/internal/protocol"
)

// SQLAppender persists agent/supervisor output to the durable message log.
type SQLAppender struct {
	Store *history.SQLStore
}

// Append implements Appender.
func (a *SQLAppender) Append(ctx context.Context, messageID, sessionID, role string, evt protocol.SequencedOutputEvent) error {
	content := ""
	if len(evt.ContentBlocks) > 0 {
		content = evt.ContentBlocks[0].Text
	}
	return a.Store.IngestMessage(ctx, history.Entry{
		ID:            messageID,
		SessionID:     sessionID,
		Sequence:      evt.Sequence,
		Role:          role,
		ContentType:   evt.ContentType,
		Content:       content,
		ContentBlocks: evt.ContentBlocks,
		IsComplete:    evt.IsComplete,
		CreatedAt:     evt.Timestamp,
	})
}

// RingAppender persists terminal output to the in-memory ring buffer.
type RingAppender struct {
	Store *history.RingStore
}

// Append implements Appender.
func (a *RingAppender) Append(_ context.Context, _ string, sessionID string, _ string, evt protocol.SequencedOutputEvent) error {
	data := ""
	if len(evt.ContentBlocks) > 0 {
		data = evt.ContentBlocks[0].Text
	}
	a.Store.Append(sessionID, history.RingEntry{
		Sequence:  evt.Sequence,
		Timestamp: evt.Timestamp,
		Data:      data,
	})
	return nil
}
