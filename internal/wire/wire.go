/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package wire implements the hand-rolled, length-prefixed binary
// framing collectors and the server speak over net.Conn, grounded on
// ingest/entryWriter.go's magic-prefixed command framing (NEW_ENTRY_MAGIC,
// CONFIRM_ENTRY_MAGIC, ...) and ingestConnection.go's identify/handshake
// idiom. This is not gRPC: gravwell's own ingest pipeline hand-rolls its
// wire protocol the same way, so this repo does too rather than
// introduce an unused dependency.
//
// Three RPC shapes ride over this framing: a bidirectional
// ControlStream (Register/ReportState/ServerCommand), UploadChunks
// (a stream of Chunks, each answered by its own Ack), and
// request/response Unary calls
// (GetUploadOffset, Query, GetData).
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/klauspost/compress/snappy"

	"github.com/MattHandzel/lifelog/internal/model"
)

// Magic identifies the shape of a frame's payload, mirroring ingest's
// IngestCommand constants.
type Magic uint32

const (
	InvalidMagic Magic = 0x00000000

	RegisterMagic      Magic = 0x4C4C0001
	ReportStateMagic   Magic = 0x4C4C0002
	ServerCommandMagic Magic = 0x4C4C0003

	ChunkMagic Magic = 0x4C4C0010
	AckMagic   Magic = 0x4C4C0011

	GetUploadOffsetReqMagic  Magic = 0x4C4C0020
	GetUploadOffsetRespMagic Magic = 0x4C4C0021
	QueryReqMagic            Magic = 0x4C4C0022
	QueryRespMagic           Magic = 0x4C4C0023
	GetDataReqMagic          Magic = 0x4C4C0024
	GetDataRespMagic         Magic = 0x4C4C0025

	TimeSyncReqMagic  Magic = 0x4C4C0026
	TimeSyncRespMagic Magic = 0x4C4C0027

	ErrorMagic Magic = 0x4C4CFFFF
)

const maxFrameSize uint32 = 256 * 1024 * 1024

var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
var ErrShortWrite = errors.New("wire: short write")

// WriteFrame writes [magic:u32-LE][len:u32-LE][payload] to w.
func WriteFrame(w io.Writer, magic Magic, payload []byte) error {
	if uint64(len(payload)) > uint64(maxFrameSize) {
		return ErrFrameTooLarge
	}
	hdr := make([]byte, 8)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(magic))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)))

	if n, err := w.Write(hdr); err != nil {
		return err
	} else if n != len(hdr) {
		return ErrShortWrite
	}
	if len(payload) == 0 {
		return nil
	}
	n, err := w.Write(payload)
	if err != nil {
		return err
	}
	if n != len(payload) {
		return ErrShortWrite
	}
	return nil
}

// ReadFrame reads a frame written by WriteFrame.
func ReadFrame(r io.Reader) (Magic, []byte, error) {
	hdr := make([]byte, 8)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return InvalidMagic, nil, err
	}
	magic := Magic(binary.LittleEndian.Uint32(hdr[0:4]))
	length := binary.LittleEndian.Uint32(hdr[4:8])
	if length > maxFrameSize {
		return InvalidMagic, nil, ErrFrameTooLarge
	}
	if length == 0 {
		return magic, nil, nil
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return InvalidMagic, nil, err
	}
	return magic, payload, nil
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bufferWriter
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.b, nil
}

func decodeGob(b []byte, v interface{}) error {
	return gob.NewDecoder(&bufferReader{b: b}).Decode(v)
}

// bufferWriter/bufferReader avoid pulling in bytes.Buffer's larger API
// surface for this narrow gob plumbing need.
type bufferWriter struct{ b []byte }

func (w *bufferWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

type bufferReader struct {
	b   []byte
	off int
}

func (r *bufferReader) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}

// --- Message payloads ---

// RegisterMessage is sent once when a collector opens its control stream.
type RegisterMessage struct {
	CollectorID string
	SessionID   uint64
	Modalities  []string
}

// ReportStateMessage is sent periodically by the collector to describe
// its current health/buffering state.
type ReportStateMessage struct {
	CollectorID      string
	UncommittedBytes map[string]uint64
}

// ServerCommand is the server->collector control message. Currently
// the only variant is BeginUploadSession.
type ServerCommand struct {
	BeginUploadSession bool
}

// Chunk is one client-streamed upload segment.
type Chunk struct {
	Stream model.StreamIdentity
	Offset uint64
	Data   []byte
	Hash   string
}

// Ack answers one Chunk of an UploadChunks stream with the stream's
// acked offset after that chunk was ingested.
type Ack struct {
	AckedOffset uint64
}

type GetUploadOffsetRequest struct {
	Stream model.StreamIdentity
}

type GetUploadOffsetResponse struct {
	Offset uint64
}

type QueryRequest struct {
	Text string
}

type QueryResponse struct {
	Keys []model.LifelogFrameKey
}

type GetDataRequest struct {
	Keys []model.LifelogFrameKey
}

type GetDataResponse struct {
	Data [][]byte // gob-encoded model.DataModality, one per requested key
}

// ErrorMessage carries a textual error back across the wire.
type ErrorMessage struct {
	Message string
}

// TimeSyncRequest carries the collector's clock at send time; the
// server stamps its own clock on receipt and echoes both back, giving
// the collector one (device_now, server_now) sample for skew estimation.
type TimeSyncRequest struct {
	DeviceNow time.Time
}

type TimeSyncResponse struct {
	DeviceNow time.Time
	ServerNow time.Time
}

// --- Compression negotiation, mirroring StreamConfiguration ---

type CompressionType uint8

const (
	CompressNone CompressionType = iota
	CompressSnappy
)

// StreamConfiguration carries a compression choice in a one-byte
// RegisterMagic frame. Neither lifelog-server nor lifelog-collector
// sends or reads it or calls EnableCompression, so their connections
// run uncompressed.
type StreamConfiguration struct {
	Compression CompressionType
}

func (c StreamConfiguration) Write(w io.Writer) error {
	return WriteFrame(w, RegisterMagic, []byte{byte(c.Compression)})
}

func ReadStreamConfiguration(r io.Reader) (StreamConfiguration, error) {
	magic, payload, err := ReadFrame(r)
	if err != nil {
		return StreamConfiguration{}, err
	}
	if magic != RegisterMagic || len(payload) != 1 {
		return StreamConfiguration{}, fmt.Errorf("wire: malformed stream configuration frame")
	}
	return StreamConfiguration{Compression: CompressionType(payload[0])}, nil
}

// --- Connection wrapper ---

// Conn wraps a net.Conn with buffered framed I/O and optional snappy
// compression, mirroring EntryWriter's bufio-wrapped conn plus
// startCompression idiom.
type Conn struct {
	nc  net.Conn
	bw  *bufio.Writer
	br  *bufio.Reader
	wtr io.Writer
	rdr io.Reader
}

func NewConn(nc net.Conn) *Conn {
	c := &Conn{nc: nc}
	c.bw = bufio.NewWriterSize(nc, 64*1024)
	c.br = bufio.NewReaderSize(nc, 64*1024)
	c.wtr = c.bw
	c.rdr = c.br
	return c
}

// EnableCompression switches the connection to snappy framing for
// everything written/read after this point.
func (c *Conn) EnableCompression() {
	sw := snappy.NewBufferedWriter(c.bw)
	c.wtr = sw
	c.rdr = snappy.NewReader(c.br)
}

func (c *Conn) WriteFrame(magic Magic, payload []byte) error {
	return WriteFrame(c.wtr, magic, payload)
}

func (c *Conn) ReadFrame() (Magic, []byte, error) {
	return ReadFrame(c.rdr)
}

func (c *Conn) Flush() error {
	if f, ok := c.wtr.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	return c.bw.Flush()
}

func (c *Conn) SetDeadline(t time.Time) error      { return c.nc.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.nc.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.nc.SetWriteDeadline(t) }
func (c *Conn) Close() error                       { return c.nc.Close() }

// --- Typed send/recv helpers layering gob encoding atop the raw frames ---

func SendRegister(c *Conn, m RegisterMessage) error {
	b, err := encodeGob(m)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(RegisterMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvRegister(c *Conn) (RegisterMessage, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		return RegisterMessage{}, err
	}
	if magic != RegisterMagic {
		return RegisterMessage{}, fmt.Errorf("wire: expected RegisterMagic, got %#x", uint32(magic))
	}
	var m RegisterMessage
	err = decodeGob(payload, &m)
	return m, err
}

func SendReportState(c *Conn, m ReportStateMessage) error {
	b, err := encodeGob(m)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(ReportStateMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func SendServerCommand(c *Conn, m ServerCommand) error {
	b, err := encodeGob(m)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(ServerCommandMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvServerCommand(c *Conn) (ServerCommand, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		return ServerCommand{}, err
	}
	if magic != ServerCommandMagic {
		return ServerCommand{}, fmt.Errorf("wire: expected ServerCommandMagic, got %#x", uint32(magic))
	}
	var m ServerCommand
	err = decodeGob(payload, &m)
	return m, err
}

func SendChunk(c *Conn, ch Chunk) error {
	b, err := encodeGob(ch)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(ChunkMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvChunk(c *Conn) (Chunk, bool, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Chunk{}, false, nil
		}
		return Chunk{}, false, err
	}
	if magic == AckMagic {
		return Chunk{}, false, nil
	}
	if magic != ChunkMagic {
		return Chunk{}, false, fmt.Errorf("wire: expected ChunkMagic, got %#x", uint32(magic))
	}
	var ch Chunk
	if err := decodeGob(payload, &ch); err != nil {
		return Chunk{}, false, err
	}
	return ch, true, nil
}

func SendAck(c *Conn, a Ack) error {
	b, err := encodeGob(a)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(AckMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvAck(c *Conn) (Ack, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		return Ack{}, err
	}
	if magic != AckMagic {
		return Ack{}, fmt.Errorf("wire: expected AckMagic, got %#x", uint32(magic))
	}
	var a Ack
	err = decodeGob(payload, &a)
	return a, err
}

func SendGetUploadOffsetRequest(c *Conn, req GetUploadOffsetRequest) error {
	b, err := encodeGob(req)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(GetUploadOffsetReqMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvGetUploadOffsetRequest(c *Conn) (GetUploadOffsetRequest, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		return GetUploadOffsetRequest{}, err
	}
	if magic != GetUploadOffsetReqMagic {
		return GetUploadOffsetRequest{}, fmt.Errorf("wire: expected GetUploadOffsetReqMagic, got %#x", uint32(magic))
	}
	var req GetUploadOffsetRequest
	err = decodeGob(payload, &req)
	return req, err
}

func SendGetUploadOffsetResponse(c *Conn, resp GetUploadOffsetResponse) error {
	b, err := encodeGob(resp)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(GetUploadOffsetRespMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvGetUploadOffsetResponse(c *Conn) (GetUploadOffsetResponse, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		return GetUploadOffsetResponse{}, err
	}
	if magic != GetUploadOffsetRespMagic {
		return GetUploadOffsetResponse{}, fmt.Errorf("wire: expected GetUploadOffsetRespMagic, got %#x", uint32(magic))
	}
	var resp GetUploadOffsetResponse
	err = decodeGob(payload, &resp)
	return resp, err
}

func SendQueryRequest(c *Conn, req QueryRequest) error {
	b, err := encodeGob(req)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(QueryReqMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvQueryRequest(c *Conn) (QueryRequest, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		return QueryRequest{}, err
	}
	if magic != QueryReqMagic {
		return QueryRequest{}, fmt.Errorf("wire: expected QueryReqMagic, got %#x", uint32(magic))
	}
	var req QueryRequest
	err = decodeGob(payload, &req)
	return req, err
}

func SendQueryResponse(c *Conn, resp QueryResponse) error {
	b, err := encodeGob(resp)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(QueryRespMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvQueryResponse(c *Conn) (QueryResponse, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		return QueryResponse{}, err
	}
	if magic != QueryRespMagic {
		return QueryResponse{}, fmt.Errorf("wire: expected QueryRespMagic, got %#x", uint32(magic))
	}
	var resp QueryResponse
	err = decodeGob(payload, &resp)
	return resp, err
}

func SendGetDataRequest(c *Conn, req GetDataRequest) error {
	b, err := encodeGob(req)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(GetDataReqMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvGetDataRequest(c *Conn) (GetDataRequest, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		return GetDataRequest{}, err
	}
	if magic != GetDataReqMagic {
		return GetDataRequest{}, fmt.Errorf("wire: expected GetDataReqMagic, got %#x", uint32(magic))
	}
	var req GetDataRequest
	err = decodeGob(payload, &req)
	return req, err
}

func SendGetDataResponse(c *Conn, resp GetDataResponse) error {
	b, err := encodeGob(resp)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(GetDataRespMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvGetDataResponse(c *Conn) (GetDataResponse, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		return GetDataResponse{}, err
	}
	if magic != GetDataRespMagic {
		return GetDataResponse{}, fmt.Errorf("wire: expected GetDataRespMagic, got %#x", uint32(magic))
	}
	var resp GetDataResponse
	err = decodeGob(payload, &resp)
	return resp, err
}

func SendTimeSyncRequest(c *Conn, req TimeSyncRequest) error {
	b, err := encodeGob(req)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(TimeSyncReqMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvTimeSyncRequest(c *Conn) (TimeSyncRequest, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		return TimeSyncRequest{}, err
	}
	if magic != TimeSyncReqMagic {
		return TimeSyncRequest{}, fmt.Errorf("wire: expected TimeSyncReqMagic, got %#x", uint32(magic))
	}
	var req TimeSyncRequest
	err = decodeGob(payload, &req)
	return req, err
}

func SendTimeSyncResponse(c *Conn, resp TimeSyncResponse) error {
	b, err := encodeGob(resp)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(TimeSyncRespMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvTimeSyncResponse(c *Conn) (TimeSyncResponse, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		return TimeSyncResponse{}, err
	}
	if magic != TimeSyncRespMagic {
		return TimeSyncResponse{}, fmt.Errorf("wire: expected TimeSyncRespMagic, got %#x", uint32(magic))
	}
	var resp TimeSyncResponse
	err = decodeGob(payload, &resp)
	return resp, err
}

func SendError(c *Conn, m ErrorMessage) error {
	b, err := encodeGob(m)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(ErrorMagic, b); err != nil {
		return err
	}
	return c.Flush()
}

func RecvError(c *Conn) (ErrorMessage, error) {
	magic, payload, err := c.ReadFrame()
	if err != nil {
		return ErrorMessage{}, err
	}
	if magic != ErrorMagic {
		return ErrorMessage{}, fmt.Errorf("wire: expected ErrorMagic, got %#x", uint32(magic))
	}
	var m ErrorMessage
	err = decodeGob(payload, &m)
	return m, err
}
