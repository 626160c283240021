/*************************************************************************
 * Copyright 2026 The Lifelog Authors. All rights reserved.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package lllog provides the leveled, structured logger used by every
// long-lived Lifelog component that logs (upload manager, ingest
// pipeline, policy loop, transform engine). It mirrors the ingest logger's shape: printf-style
// helpers for casual messages, structured helpers that accept KV pairs
// and emit RFC 5424 syslog formatted lines. Both kinds write to the
// Logger's own writer; there is no network destination.
package lllog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
	FATAL
)

func (l Level) String() string {
	switch l {
	case OFF:
		return "OFF"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	case FATAL:
		return "FATAL"
	}
	return "UNKNOWN"
}

// LevelFromString parses a level name, defaulting to INFO on a miss.
func LevelFromString(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFF":
		return OFF
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "CRITICAL":
		return CRITICAL
	case "FATAL":
		return FATAL
	}
	return INFO
}

const defaultDepth = 2

// Logger is a leveled writer with an optional hostname/appname identity
// used when structured output is rendered as RFC 5424.
type Logger struct {
	mtx      sync.Mutex
	wtr      io.Writer
	level    Level
	hostname string
	appname  string
}

// New builds a Logger writing to wtr at the given level.
func New(wtr io.Writer, lvl Level) *Logger {
	hn, _ := os.Hostname()
	return &Logger{
		wtr:      wtr,
		level:    lvl,
		hostname: hn,
		appname:  "lifelog",
	}
}

// NewFile opens path for append and returns a Logger writing to it.
func NewFile(path string, lvl Level) (*Logger, error) {
	fout, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}
	return New(fout, lvl), nil
}

// NewStderrLogger builds a Logger writing to os.Stderr.
func NewStderrLogger(lvl Level) *Logger {
	return New(os.Stderr, lvl)
}

// NewDiscardLogger builds a Logger that drops everything written to it.
func NewDiscardLogger() *Logger {
	return New(io.Discard, OFF)
}

func (l *Logger) SetLevel(lvl Level) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.level = lvl
}

func (l *Logger) SetAppname(name string) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.appname = name
}

func callLoc(depth int) string {
	_, file, line, ok := runtime.Caller(depth)
	if !ok {
		return "???"
	}
	idx := strings.LastIndexByte(file, '/')
	if idx >= 0 {
		file = file[idx+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func (l *Logger) enabled(lvl Level) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.level != OFF && lvl >= l.level
}

func (l *Logger) outputf(depth int, lvl Level, format string, args ...interface{}) error {
	if !l.enabled(lvl) {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return l.writeLine(depth+1, lvl, msg)
}

func (l *Logger) writeLine(depth int, lvl Level, msg string) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	line := fmt.Sprintf("%s [%s] %s %s\n", time.Now().UTC().Format(time.RFC3339Nano), lvl, callLoc(depth+1), msg)
	_, err := io.WriteString(l.wtr, line)
	return err
}

// GenRFCMessage renders msg plus the KV pairs as an RFC 5424 message.
func (l *Logger) GenRFCMessage(lvl Level, msg string, sds ...rfc5424.SDParam) rfc5424.Message {
	pri := rfc5424.Priority(rfc5424.User | rfc5424.Info)
	switch lvl {
	case ERROR, CRITICAL, FATAL:
		pri = rfc5424.Priority(rfc5424.User | rfc5424.Err)
	case WARN:
		pri = rfc5424.Priority(rfc5424.User | rfc5424.Warning)
	}
	return rfc5424.Message{
		Priority:  pri,
		Timestamp: time.Now().UTC(),
		Hostname:  l.hostname,
		AppName:   l.appname,
		Message:   []byte(msg),
		StructuredData: []rfc5424.StructuredData{
			{
				ID:         "meta@0",
				Parameters: sds,
			},
		},
	}
}

func (l *Logger) outputStructured(depth int, lvl Level, msg string, sds ...rfc5424.SDParam) error {
	if !l.enabled(lvl) {
		return nil
	}
	m := l.GenRFCMessage(lvl, msg, sds...)
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	_, err = l.wtr.Write(append(b, '\n'))
	return err
}

func (l *Logger) Debugf(format string, args ...interface{}) error {
	return l.outputf(defaultDepth, DEBUG, format, args...)
}
func (l *Logger) Infof(format string, args ...interface{}) error {
	return l.outputf(defaultDepth, INFO, format, args...)
}
func (l *Logger) Warnf(format string, args ...interface{}) error {
	return l.outputf(defaultDepth, WARN, format, args...)
}
func (l *Logger) Errorf(format string, args ...interface{}) error {
	return l.outputf(defaultDepth, ERROR, format, args...)
}
func (l *Logger) Criticalf(format string, args ...interface{}) error {
	return l.outputf(defaultDepth, CRITICAL, format, args...)
}
func (l *Logger) Fatalf(format string, args ...interface{}) error {
	err := l.outputf(defaultDepth, FATAL, format, args...)
	os.Exit(1)
	return err
}

func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam) error {
	return l.outputStructured(defaultDepth, DEBUG, msg, sds...)
}
func (l *Logger) Info(msg string, sds ...rfc5424.SDParam) error {
	return l.outputStructured(defaultDepth, INFO, msg, sds...)
}
func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam) error {
	return l.outputStructured(defaultDepth, WARN, msg, sds...)
}
func (l *Logger) Error(msg string, sds ...rfc5424.SDParam) error {
	return l.outputStructured(defaultDepth, ERROR, msg, sds...)
}
func (l *Logger) Critical(msg string, sds ...rfc5424.SDParam) error {
	return l.outputStructured(defaultDepth, CRITICAL, msg, sds...)
}
func (l *Logger) Fatal(msg string, sds ...rfc5424.SDParam) error {
	err := l.outputStructured(defaultDepth, FATAL, msg, sds...)
	os.Exit(1)
	return err
}

// KV builds a structured data parameter, mirroring gravwell's log.KV helper.
func KV(name string, value interface{}) rfc5424.SDParam {
	return rfc5424.SDParam{Name: name, Value: fmt.Sprint(value)}
}

// KVErr is shorthand for KV("error", err).
func KVErr(err error) rfc5424.SDParam {
	if err == nil {
		return KV("error", "<nil>")
	}
	return KV("error", err.Error())
}

// KVLogger pairs a Logger with a persistent set of structured fields,
// useful for a component (a stream, a connection) that wants every log
// line tagged with its identity without repeating KV(...) at each call site.
type KVLogger struct {
	*Logger
	mtx sync.Mutex
	sds []rfc5424.SDParam
}

func NewKVLogger(l *Logger, sds ...rfc5424.SDParam) *KVLogger {
	return &KVLogger{Logger: l, sds: sds}
}

func (kvl *KVLogger) snapshot() []rfc5424.SDParam {
	kvl.mtx.Lock()
	defer kvl.mtx.Unlock()
	out := make([]rfc5424.SDParam, len(kvl.sds))
	copy(out, kvl.sds)
	return out
}

func (kvl *KVLogger) AddKV(sds ...rfc5424.SDParam) {
	kvl.mtx.Lock()
	defer kvl.mtx.Unlock()
	kvl.sds = append(kvl.sds, sds...)
}

func (kvl *KVLogger) Debug(msg string, sds ...rfc5424.SDParam) error {
	return kvl.outputStructured(defaultDepth, DEBUG, msg, append(kvl.snapshot(), sds...)...)
}
func (kvl *KVLogger) Info(msg string, sds ...rfc5424.SDParam) error {
	return kvl.outputStructured(defaultDepth, INFO, msg, append(kvl.snapshot(), sds...)...)
}
func (kvl *KVLogger) Warn(msg string, sds ...rfc5424.SDParam) error {
	return kvl.outputStructured(defaultDepth, WARN, msg, append(kvl.snapshot(), sds...)...)
}
func (kvl *KVLogger) Error(msg string, sds ...rfc5424.SDParam) error {
	return kvl.outputStructured(defaultDepth, ERROR, msg, append(kvl.snapshot(), sds...)...)
}
func (kvl *KVLogger) Critical(msg string, sds ...rfc5424.SDParam) error {
	return kvl.outputStructured(defaultDepth, CRITICAL, msg, append(kvl.snapshot(), sds...)...)
}
