package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/abema/curlb/internal/thread"
	"github.com/abema/curlb/internal/url"
)

type Runner struct {
	Engines map[string]Engine
	// Trace receives protocol trace lines of verbose transfers.
	Trace io.Writer
}

func NewRunner(trace io.Writer) *Runner {
	return &Runner{
		Engines: DefaultEngines(),
		Trace:   trace,
	}
}

// Perform executes exactly one transfer and collects its statistics.
// On failure the returned error is always a *TransferError and no result is returned.
func (r *Runner) Perform(ctx context.Context, config *Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, newTransferError(CodeURLMalformat, err)
	}
	u := url.Guess(config.URL)
	scheme, err := url.Scheme(u)
	if err != nil {
		return nil, newTransferError(CodeURLMalformat, err)
	}
	engine, ok := r.Engines[scheme]
	if !ok {
		return nil, newTransferError(CodeUnsupportedProtocol, fmt.Errorf("protocol \"%s\" not supported", scheme))
	}

	body := bytes.NewBuffer(nil)
	session, err := engine(r.options(config, u, body))
	if err != nil {
		return nil, asTransferError(err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("WARNING: failed to release session: %s: %s", u, err)
		}
	}()

	perform := thread.NoPanic(func() error { return session.Perform(ctx) })
	if err := perform(); err != nil {
		return nil, asTransferError(err)
	}
	return &Result{
		Info: extractInfo(session),
		Body: body.Bytes(),
	}, nil
}

func (r *Runner) options(config *Config, u string, output io.Writer) *Options {
	opts := &Options{
		URL:            u,
		Method:         config.Method,
		Header:         config.Header,
		BodySize:       -1,
		ConnectTimeout: config.ConnectTimeout(),
		Insecure:       config.Insecure,
		Compressed:     config.Compressed,
		FollowLocation: config.FollowLocation,
		MaxRedirects:   config.MaxRedirects,
		Output:         output,
	}
	if config.Body != nil {
		opts.Body = strings.NewReader(*config.Body)
		opts.BodySize = int64(len(*config.Body))
	}
	if config.Verbose {
		opts.Trace = r.Trace
	}
	return opts
}

func extractInfo(session Session) Info {
	info := make(Info, len(StatKeys))
	for _, key := range StatKeys {
		if value, ok := tryGet(session, key); ok {
			info[string(key)] = value
		}
	}
	return info
}

// tryGet reads one statistic. Any failure, including a panic, only drops that key.
func tryGet(session Session, key StatKey) (value interface{}, ok bool) {
	defer func() {
		if recover() != nil {
			value, ok = nil, false
		}
	}()
	value, err := session.Info(key)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}
