/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package model holds the shared data types every other package builds
// on: frames, their composite identities, and the closed modality union,
// grounded on gravwell's closed enumerated-type dispatch idiom
// (ingest/entry/enumerated_types.go) rather than reflection.
package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordType distinguishes point-in-time frames from interval frames.
type RecordType uint8

const (
	Point RecordType = iota
	Interval
)

func (r RecordType) String() string {
	if r == Interval {
		return "interval"
	}
	return "point"
}

// Modality names the kind of payload a frame carries. Closed set, no
// reflection-based dispatch; every modality must be registered here
// and in the schema package.
type Modality string

const (
	ModalityScreen         Modality = "screen"
	ModalityOcr            Modality = "ocr"
	ModalityBrowser        Modality = "browser"
	ModalityClipboard      Modality = "clipboard"
	ModalityKeystrokes     Modality = "keystrokes"
	ModalityMouse          Modality = "mouse"
	ModalityWindowActivity Modality = "window_activity"
	ModalityShellHistory   Modality = "shell_history"
	ModalityWeather        Modality = "weather"
	ModalityProcesses      Modality = "processes"
	ModalityAudio          Modality = "audio"
)

// AllModalities lists every modality the schema registry must know about.
var AllModalities = []Modality{
	ModalityScreen, ModalityOcr, ModalityBrowser, ModalityClipboard,
	ModalityKeystrokes, ModalityMouse, ModalityWindowActivity,
	ModalityShellHistory, ModalityWeather, ModalityProcesses, ModalityAudio,
}

// DataOrigin is a tagged, recursive identity: either a raw device stream
// or a stream derived from a parent origin (e.g. Ocr derived from Screen).
// It must serialize to a table name reversibly; tests rely on it.
type DataOrigin struct {
	Modality Modality
	DeviceID string      // set iff Parent == nil
	Parent   *DataOrigin // set iff derived
}

// NewDeviceOrigin builds a root origin bound to a physical device.
func NewDeviceOrigin(deviceID string, m Modality) DataOrigin {
	return DataOrigin{Modality: m, DeviceID: deviceID}
}

// NewDerivedOrigin builds an origin derived from parent (e.g. Screen -> Ocr).
func NewDerivedOrigin(parent DataOrigin, m Modality) DataOrigin {
	p := parent
	return DataOrigin{Modality: m, Parent: &p}
}

func (o DataOrigin) IsDerived() bool { return o.Parent != nil }

var tableNameSafe = regexp.MustCompile(`^[A-Za-z0-9_:\-]+$`)

// TableName deterministically serializes the origin by depth-first
// concatenation: device:<id>:<modality> for a root, or
// derived:<parent-table>:<modality> for a derived origin. The
// encoding is injective, and ParseTableName reverses it, only while
// DeviceID and Modality values contain no ':' separator; neither
// TableName nor ParseTableName checks for one.
func (o DataOrigin) TableName() string {
	var b strings.Builder
	o.writeTableName(&b)
	return b.String()
}

func (o DataOrigin) writeTableName(b *strings.Builder) {
	if o.Parent != nil {
		b.WriteString("derived:")
		o.Parent.writeTableName(b)
		b.WriteByte(':')
		b.WriteString(string(o.Modality))
		return
	}
	b.WriteString("device:")
	b.WriteString(o.DeviceID)
	b.WriteByte(':')
	b.WriteString(string(o.Modality))
}

// ValidTableName reports whether name matches the table-name charset
// invariant the schema registry relies on for bolt bucket naming.
func ValidTableName(name string) bool {
	return tableNameSafe.MatchString(name)
}

// ParseTableName reverses TableName. It is the inverse used by schema
// migrations that need to recover an origin's structure from a bucket
// name alone (e.g. discovering origins already present in the store).
func ParseTableName(name string) (DataOrigin, error) {
	o, rest, err := parseOriginPrefix(name)
	if err != nil {
		return DataOrigin{}, err
	}
	if rest != "" {
		return DataOrigin{}, fmt.Errorf("model: trailing data in table name %q", name)
	}
	return o, nil
}

func parseOriginPrefix(s string) (DataOrigin, string, error) {
	switch {
	case strings.HasPrefix(s, "device:"):
		rest := s[len("device:"):]
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return DataOrigin{}, "", fmt.Errorf("model: malformed device origin %q", s)
		}
		return DataOrigin{DeviceID: parts[0], Modality: Modality(parts[1])}, "", nil
	case strings.HasPrefix(s, "derived:"):
		rest := s[len("derived:"):]
		// Parent itself may be "device:..." or nested "derived:...";
		// parent has no trailing separator ambiguity because modality
		// names never contain ':'.
		parentEnd := findParentEnd(rest)
		parentStr := rest[:parentEnd]
		tail := rest[parentEnd:]
		tail = strings.TrimPrefix(tail, ":")
		parent, leftover, err := parseOriginPrefix(parentStr)
		if err != nil {
			return DataOrigin{}, "", err
		}
		if leftover != "" {
			return DataOrigin{}, "", fmt.Errorf("model: malformed derived origin %q", s)
		}
		return DataOrigin{Parent: &parent, Modality: Modality(tail)}, "", nil
	default:
		return DataOrigin{}, "", fmt.Errorf("model: unrecognized origin prefix in %q", s)
	}
}

// findParentEnd locates the boundary between a nested parent origin
// string and this level's trailing ":<modality>" suffix by scanning
// for the last ':' segment, since modality names are atomic (no colons).
func findParentEnd(s string) int {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return len(s)
	}
	return idx
}

// LifelogFrameKey is the external handle used by queries and GetData.
type LifelogFrameKey struct {
	UUID   uuid.UUID
	Origin DataOrigin
}

// StreamIdentity namespaces chunk offsets: (collector, stream, session).
type StreamIdentity struct {
	CollectorID string
	StreamID    string
	SessionID   uint64
}

func (s StreamIdentity) String() string {
	return fmt.Sprintf("%s/%s/%d", s.CollectorID, s.StreamID, s.SessionID)
}

// ChunkRecord is server-side per-chunk metadata. The composite primary
// key is (CollectorID, StreamID, SessionID, Offset); BoltKey renders it
// length-prefixed rather than hyphen-joined so a hyphen inside
// CollectorID can never collide with the field separator.
type ChunkRecord struct {
	Stream  StreamIdentity
	Offset  uint64
	Length  uint64
	Hash    string
	Indexed bool
}

// BoltKey renders the composite primary key as
// [len(collector)][collector][len(stream)][stream][session:8][offset:8],
// each string field length-prefixed with a single byte (field values
// are bounded well under 256 bytes in practice; callers must ensure
// that before calling this).
func (c ChunkRecord) BoltKey() []byte {
	var buf bytes.Buffer
	writeLP(&buf, c.Stream.CollectorID)
	writeLP(&buf, c.Stream.StreamID)
	writeU64(&buf, c.Stream.SessionID)
	writeU64(&buf, c.Offset)
	return buf.Bytes()
}

func writeLP(buf *bytes.Buffer, s string) {
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	buf.Write(b[:])
}

// Frame is the unit of captured data flowing from WAL through upload,
// ingest, and into the typed store.
type Frame struct {
	UUID       uuid.UUID
	Origin     DataOrigin
	TDevice    time.Time
	TCanonical time.Time
	TEnd       time.Time
	RecordType RecordType
	Payload    DataModality
}

// ApplySkew returns a copy of the frame with TCanonical set from
// TDevice plus the supplied device offset.
func (f Frame) ApplySkew(deviceOffset time.Duration) Frame {
	f.TCanonical = f.TDevice.Add(deviceOffset)
	return f
}

// DataModality is the closed tagged union of payload shapes. Exactly one
// field is meaningful, selected by Tag. Gob-encoded in WAL records and
// wire chunks (the store keeps frames as JSON records instead),
// mirroring ingest/entry's enumerated-value approach but with Go's gob
// machinery standing in for its hand-rolled byte tags.
type DataModality struct {
	Tag        Modality
	Screen     *ScreenPayload     `json:",omitempty"`
	Ocr        *OcrPayload        `json:",omitempty"`
	Browser    *BrowserPayload    `json:",omitempty"`
	Clipboard  *ClipboardPayload  `json:",omitempty"`
	Keystrokes *KeystrokesPayload `json:",omitempty"`
	Mouse      *MousePayload      `json:",omitempty"`
	Window     *WindowActivityPayload `json:",omitempty"`
	Shell      *ShellHistoryPayload   `json:",omitempty"`
	Weather    *WeatherPayload        `json:",omitempty"`
	Processes  *ProcessesPayload      `json:",omitempty"`
	Audio      *AudioPayload          `json:",omitempty"`
}

type ScreenPayload struct {
	Width      int
	Height     int
	ImageBytes []byte
	MimeType   string
}

type OcrPayload struct {
	Text string
}

type BrowserPayload struct {
	URL        string
	Title      string
	VisitCount int
}

type ClipboardPayload struct {
	Text     string
	MimeType string
}

type KeystrokesPayload struct {
	KeyIdentity string
	Application string
	WindowTitle string
}

type MousePayload struct {
	X       int
	Y       int
	Button  string
	Pressed bool
}

type WindowActivityPayload struct {
	Application string
	Title       string
	Monitor     int
}

type ShellHistoryPayload struct {
	Command   string
	ShellType string
}

type WeatherPayload struct {
	Temperature float64
	Humidity    float64
	Pressure    float64
	Conditions  string
}

type ProcessEntry struct {
	Name    string
	PID     int
	CPUPct  float64
	MemBytes uint64
}

type ProcessesPayload struct {
	Entries []ProcessEntry
}

type AudioPayload struct {
	SampleRate int
	Channels   int
	Bits       int
	Data       []byte
}

// Validate checks that exactly the field matching Tag is populated,
// mirroring ingest/entry's InferEnumeratedData closed-dispatch checks.
func (d DataModality) Validate() error {
	set := 0
	tagMatches := false
	check := func(present bool, want Modality) {
		if present {
			set++
			if want == d.Tag {
				tagMatches = true
			}
		}
	}
	check(d.Screen != nil, ModalityScreen)
	check(d.Ocr != nil, ModalityOcr)
	check(d.Browser != nil, ModalityBrowser)
	check(d.Clipboard != nil, ModalityClipboard)
	check(d.Keystrokes != nil, ModalityKeystrokes)
	check(d.Mouse != nil, ModalityMouse)
	check(d.Window != nil, ModalityWindowActivity)
	check(d.Shell != nil, ModalityShellHistory)
	check(d.Weather != nil, ModalityWeather)
	check(d.Processes != nil, ModalityProcesses)
	check(d.Audio != nil, ModalityAudio)
	if set != 1 {
		return fmt.Errorf("model: DataModality must have exactly one payload set, got %d", set)
	}
	if !tagMatches {
		return fmt.Errorf("model: DataModality payload does not match tag %s", d.Tag)
	}
	return nil
}

// Encode gob-encodes the modality payload for WAL and wire use.
func (d DataModality) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeDataModality reverses Encode.
func DecodeDataModality(b []byte) (DataModality, error) {
	var d DataModality
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&d); err != nil {
		return DataModality{}, err
	}
	return d, nil
}

// wireFrame is the gob-serializable shape of a Frame. uuid.UUID and
// time.Time already implement gob's GobEncoder/GobDecoder, so Frame
// itself could be encoded directly; this wrapper exists so the wire
// encoding is decoupled from Frame's field layout evolving.
type wireFrame struct {
	UUID       uuid.UUID
	Origin     DataOrigin
	TDevice    time.Time
	TCanonical time.Time
	TEnd       time.Time
	RecordType RecordType
	Payload    DataModality
}

// EncodeFrame gob-encodes a frame for WAL/wire transport. This is the
// "encode once" step a modality driver performs before appending to
// its WAL, per the collector runtime's capture -> encode -> append loop.
func EncodeFrame(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	wf := wireFrame{
		UUID: f.UUID, Origin: f.Origin, TDevice: f.TDevice,
		TCanonical: f.TCanonical, TEnd: f.TEnd, RecordType: f.RecordType, Payload: f.Payload,
	}
	if err := gob.NewEncoder(&buf).Encode(wf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrame reverses EncodeFrame, as the ingest pipeline does when
// decoding a chunk's bytes into a typed frame (step 4 of ingest).
func DecodeFrame(b []byte) (Frame, error) {
	var wf wireFrame
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&wf); err != nil {
		return Frame{}, err
	}
	return Frame{
		UUID: wf.UUID, Origin: wf.Origin, TDevice: wf.TDevice,
		TCanonical: wf.TCanonical, TEnd: wf.TEnd, RecordType: wf.RecordType, Payload: wf.Payload,
	}, nil
}
