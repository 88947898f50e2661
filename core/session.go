package core

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Options is everything an engine needs to set up one transfer.
type Options struct {
	URL            string
	Method         string
	Header         http.Header
	Body           io.Reader
	BodySize       int64
	ConnectTimeout time.Duration
	Insecure       bool
	Compressed     bool
	FollowLocation bool
	MaxRedirects   int
	// Trace receives protocol trace lines. nil disables tracing.
	Trace io.Writer
	// Output receives the response body.
	Output io.Writer
}

// Session is a single configured transfer handle.
// Info must only be called after Perform has returned nil.
type Session interface {
	Perform(ctx context.Context) error
	Info(key StatKey) (interface{}, error)
	Close() error
}

// Engine opens a session for one URL scheme.
type Engine func(opts *Options) (Session, error)

func DefaultEngines() map[string]Engine {
	return map[string]Engine{
		"http":  NewHTTPSession,
		"https": NewHTTPSession,
		"ftp":   NewFTPSession,
		"ftps":  NewFTPSession,
	}
}

func speed(size int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(size) / d.Seconds()
}
