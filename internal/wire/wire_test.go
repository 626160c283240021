/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package wire

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/MattHandzel/lifelog/internal/model"
)

func pipeConns(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	return NewConn(a), NewConn(b)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		done <- client.WriteFrame(ChunkMagic, []byte("payload"))
	}()

	magic, payload, err := server.ReadFrame()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, ChunkMagic, magic)
	require.Equal(t, []byte("payload"), payload)
}

func TestRegisterRoundTrip(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	msg := RegisterMessage{CollectorID: "laptop-01", SessionID: 42, Modalities: []string{"screen", "mouse"}}

	done := make(chan error, 1)
	go func() { done <- SendRegister(client, msg) }()

	got, err := RecvRegister(server)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, msg, got)
}

func TestChunkAckRoundTrip(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	ch := Chunk{
		Stream: model.StreamIdentity{CollectorID: "c1", StreamID: "screen", SessionID: 1},
		Offset: 0,
		Data:   []byte("hello"),
		Hash:   "deadbeef",
	}

	done := make(chan error, 1)
	go func() { done <- SendChunk(client, ch) }()

	got, ok, err := RecvChunk(server)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, <-done)
	require.Equal(t, ch, got)

	done2 := make(chan error, 1)
	go func() { done2 <- SendAck(server, Ack{AckedOffset: 5}) }()
	ack, err := RecvAck(client)
	require.NoError(t, err)
	require.NoError(t, <-done2)
	require.Equal(t, uint64(5), ack.AckedOffset)
}

func TestFrameTooLargeRejected(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	err := WriteFrame(discard{}, ChunkMagic, make([]byte, maxFrameSize+1))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestGetUploadOffsetRoundTrip(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	stream := model.StreamIdentity{CollectorID: "c1", StreamID: "screen", SessionID: 1}
	go func() { _ = SendGetUploadOffsetRequest(client, GetUploadOffsetRequest{Stream: stream}) }()
	req, err := RecvGetUploadOffsetRequest(server)
	require.NoError(t, err)
	require.Equal(t, stream, req.Stream)

	go func() { _ = SendGetUploadOffsetResponse(server, GetUploadOffsetResponse{Offset: 42}) }()
	resp, err := RecvGetUploadOffsetResponse(client)
	require.NoError(t, err)
	require.EqualValues(t, 42, resp.Offset)
}

func TestQueryRoundTrip(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	go func() { _ = SendQueryRequest(client, QueryRequest{Text: `llql:{}`}) }()
	req, err := RecvQueryRequest(server)
	require.NoError(t, err)
	require.Equal(t, `llql:{}`, req.Text)

	key := model.LifelogFrameKey{UUID: uuid.New(), Origin: model.NewDeviceOrigin("c1", model.ModalityClipboard)}
	go func() { _ = SendQueryResponse(server, QueryResponse{Keys: []model.LifelogFrameKey{key}}) }()
	resp, err := RecvQueryResponse(client)
	require.NoError(t, err)
	require.Equal(t, []model.LifelogFrameKey{key}, resp.Keys)
}

func TestErrorMessageRoundTrip(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	go func() { _ = SendError(server, ErrorMessage{Message: "boom"}) }()
	m, err := RecvError(client)
	require.NoError(t, err)
	require.Equal(t, "boom", m.Message)
}

func TestTimeSyncRoundTrip(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	deviceNow := time.Now().UTC().Truncate(time.Millisecond)
	go func() { _ = SendTimeSyncRequest(client, TimeSyncRequest{DeviceNow: deviceNow}) }()
	req, err := RecvTimeSyncRequest(server)
	require.NoError(t, err)
	require.True(t, deviceNow.Equal(req.DeviceNow))

	serverNow := deviceNow.Add(250 * time.Millisecond)
	go func() {
		_ = SendTimeSyncResponse(server, TimeSyncResponse{DeviceNow: req.DeviceNow, ServerNow: serverNow})
	}()
	resp, err := RecvTimeSyncResponse(client)
	require.NoError(t, err)
	require.True(t, deviceNow.Equal(resp.DeviceNow))
	require.True(t, serverNow.Equal(resp.ServerNow))
}
