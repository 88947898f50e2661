package core

import (
	"crypto/tls"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/textproto"
	"sort"
	"strings"
	"time"
)

// hop is one request/response exchange of a transfer. Redirects add hops.
type hop struct {
	start       time.Time
	getConn     time.Time
	dnsDone     time.Time
	connectDone time.Time
	tlsDone     time.Time
	gotConn     time.Time
	firstByte   time.Time

	reused      bool
	tls         bool
	proto       string
	localAddr   net.Addr
	remoteAddr  net.Addr
	requestLine string
	wroteLine   bool
}

// clientTrace returns the hooks for one hop. Hooks can run on transport goroutines,
// so every write to the session goes through s.mu.
func (s *httpSession) clientTrace(h *hop) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(hostPort string) {
			s.mu.Lock()
			defer s.mu.Unlock()
			h.getConn = time.Now()
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			s.mu.Lock()
			h.dnsDone = time.Now()
			s.mu.Unlock()
			if info.Err != nil {
				s.tracef("* Could not resolve host: %s", info.Err)
			}
		},
		ConnectStart: func(network, addr string) {
			s.tracef("*   Trying %s...", addr)
		},
		ConnectDone: func(network, addr string, err error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if err != nil {
				s.osErrno = errnoOf(err)
				return
			}
			h.connectDone = time.Now()
		},
		TLSHandshakeStart: func() {
			s.tracef("* TLS handshake started")
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			s.mu.Lock()
			h.tlsDone = time.Now()
			s.mu.Unlock()
			if err != nil {
				s.tracef("* TLS handshake failed: %s", err)
				return
			}
			s.tracef("* SSL connection using %s / %s", tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite))
			if state.NegotiatedProtocol != "" {
				s.tracef("* ALPN: server accepted %s", state.NegotiatedProtocol)
			}
		},
		GotConn: func(info httptrace.GotConnInfo) {
			s.mu.Lock()
			h.gotConn = time.Now()
			h.reused = info.Reused
			h.localAddr = info.Conn.LocalAddr()
			h.remoteAddr = info.Conn.RemoteAddr()
			h.proto = "HTTP/1.1"
			if tlsConn, ok := info.Conn.(*tls.Conn); ok {
				h.tls = true
				if tlsConn.ConnectionState().NegotiatedProtocol == "h2" {
					h.proto = "HTTP/2"
				}
			}
			if !info.Reused {
				s.numConnects++
			}
			s.mu.Unlock()
			if info.Reused {
				s.tracef("* Re-using existing connection with %s", info.Conn.RemoteAddr())
			} else {
				s.tracef("* Connected to %s from %s", info.Conn.RemoteAddr(), info.Conn.LocalAddr())
			}
		},
		WroteHeaderField: func(key string, values []string) {
			s.mu.Lock()
			defer s.mu.Unlock()
			if !h.wroteLine {
				h.wroteLine = true
				if h.proto != "HTTP/2" {
					line := h.requestLine + " " + h.proto
					s.requestSize += int64(len(line) + 2)
					s.tracef("> %s", line)
				}
			}
			for _, value := range values {
				s.requestSize += int64(len(key) + len(value) + 4)
				s.tracef("> %s: %s", key, value)
			}
		},
		WroteHeaders: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.requestSize += 2
			s.tracef(">")
		},
		Got1xxResponse: func(code int, header textproto.MIMEHeader) error {
			s.tracef("< %d %s", code, http.StatusText(code))
			return nil
		},
		GotFirstResponseByte: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			h.firstByte = time.Now()
		},
	}
}

// traceResponse writes the response head in curl's verbose format.
func (s *httpSession) traceResponse(resp *http.Response) {
	if s.logger == nil {
		return
	}
	s.tracef("< %s %s", resp.Proto, resp.Status)
	keys := make([]string, 0, len(resp.Header))
	for key := range resp.Header {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		s.tracef("< %s: %s", key, strings.Join(resp.Header[key], ", "))
	}
	s.tracef("<")
}

// tracer writes verbose protocol lines. The zero value discards them.
type tracer struct {
	logger *log.Logger
}

func newTracer(w io.Writer) tracer {
	if w == nil {
		return tracer{}
	}
	return tracer{logger: log.New(w, "", 0)}
}

func (t tracer) tracef(format string, args ...interface{}) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

// offset returns t relative to base, falling back when the phase never happened.
func offset(base, t time.Time, fallback time.Duration) time.Duration {
	if t.IsZero() || t.Before(base) {
		return fallback
	}
	return t.Sub(base)
}
