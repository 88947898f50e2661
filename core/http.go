package core

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptrace"
	neturl "net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/abema/curlb/internal/url"
	"golang.org/x/net/http2"
	"golang.org/x/net/publicsuffix"
)

type httpSession struct {
	opts      *Options
	body      []byte
	dialer    *net.Dialer
	transport *http.Transport
	client    *http.Client
	tracer

	mu             sync.Mutex
	start          time.Time
	end            time.Time
	hops           []*hop
	response       *http.Response
	upload         *countingReader
	download       *countingReader
	proxied        bool
	numConnects    int64
	osErrno        int64
	headerSize     int64
	requestSize    int64
	verifyResult   int64
	peerCerts      []*x509.Certificate
	authAvail      int64
	proxyAuthAvail int64
	cookies        []string
}

// NewHTTPSession binds Options to a net/http client.
func NewHTTPSession(opts *Options) (Session, error) {
	s := &httpSession{
		opts:   opts,
		tracer: newTracer(opts.Trace),
		dialer: &net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		},
	}
	if opts.Body != nil {
		body, err := io.ReadAll(opts.Body)
		if err != nil {
			return nil, newTransferError(CodeFailedInit, fmt.Errorf("failed to read request body: %w", err))
		}
		s.body = body
	}

	// TLSHandshakeTimeout only applies to TLS inside a proxy tunnel. dialTLS bounds direct connections.
	s.transport = &http.Transport{
		Proxy:               s.proxy,
		DialContext:         s.dialer.DialContext,
		DialTLSContext:      s.dialTLS,
		TLSHandshakeTimeout: opts.ConnectTimeout,
		DisableCompression:  true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.Insecure,
			VerifyConnection:   s.verifyConnection,
		},
	}
	if err := http2.ConfigureTransport(s.transport); err != nil {
		return nil, newTransferError(CodeFailedInit, err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, newTransferError(CodeFailedInit, err)
	}
	s.client = &http.Client{
		Transport:     &hopTransport{session: s, base: s.transport},
		CheckRedirect: s.checkRedirect,
		Jar:           jar,
	}
	return s, nil
}

func (s *httpSession) Perform(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, s.method(), s.opts.URL, nil)
	if err != nil {
		return newTransferError(CodeURLMalformat, err)
	}
	for key, values := range s.opts.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	if s.opts.Compressed {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	if s.body != nil {
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		req.ContentLength = int64(len(s.body))
		req.GetBody = s.newBody
		req.Body, _ = s.newBody()
	}

	s.start = time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	s.mu.Lock()
	s.response = resp
	s.download = &countingReader{reader: resp.Body}
	s.mu.Unlock()

	var r io.Reader = s.download
	if s.opts.Compressed {
		if r, err = decodeContent(resp.Header.Get("Content-Encoding"), r); err != nil {
			return newTransferError(CodeRecvError, err)
		}
	}
	if _, err := io.Copy(s.opts.Output, r); err != nil {
		return newTransferError(CodeRecvError, fmt.Errorf("failure when receiving data from the peer: %w", err))
	}
	s.end = time.Now()
	return nil
}

func (s *httpSession) Close() error {
	s.transport.CloseIdleConnections()
	return nil
}

func (s *httpSession) method() string {
	switch {
	case s.opts.Method != "":
		return s.opts.Method
	case s.body != nil:
		return http.MethodPost
	}
	return http.MethodGet
}

func (s *httpSession) newBody() (io.ReadCloser, error) {
	upload := &countingReader{reader: bytes.NewReader(s.body)}
	s.mu.Lock()
	s.upload = upload
	s.mu.Unlock()
	return io.NopCloser(upload), nil
}

func (s *httpSession) proxy(req *http.Request) (*neturl.URL, error) {
	u, err := http.ProxyFromEnvironment(req)
	if u != nil {
		s.mu.Lock()
		s.proxied = true
		s.mu.Unlock()
		s.tracef("* Uses proxy %s", u.Redacted())
	}
	return u, err
}

func (s *httpSession) checkRedirect(req *http.Request, via []*http.Request) error {
	if !s.opts.FollowLocation {
		return http.ErrUseLastResponse
	}
	if len(via) > s.opts.MaxRedirects {
		return fmt.Errorf("%w: %d", errTooManyRedirects, s.opts.MaxRedirects)
	}
	s.tracef("* Issue another request to this URL: '%s'", req.URL)
	return nil
}

// dialTLS connects and completes the TLS handshake under a single connect timeout.
func (s *httpSession) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	if s.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}
	conn, err := s.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	config := s.transport.TLSClientConfig.Clone()
	if config.ServerName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			conn.Close()
			return nil, err
		}
		config.ServerName = host
	}
	tlsConn := tls.Client(conn, config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func (s *httpSession) verifyConnection(cs tls.ConnectionState) error {
	result := int64(verifyOK)
	if s.opts.Insecure {
		result = verifyPeer(cs)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyResult = result
	s.peerCerts = cs.PeerCertificates
	return nil
}

type hopTransport struct {
	session *httpSession
	base    http.RoundTripper
}

func (t *hopTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s := t.session
	h := &hop{
		start:       time.Now(),
		requestLine: req.Method + " " + req.URL.RequestURI(),
	}
	s.mu.Lock()
	s.hops = append(s.hops, h)
	s.mu.Unlock()

	resp, err := t.base.RoundTrip(req.WithContext(httptrace.WithClientTrace(req.Context(), s.clientTrace(h))))
	if err != nil {
		return nil, err
	}
	s.traceResponse(resp)
	s.recordResponse(req, resp)
	return resp, nil
}

func (s *httpSession) recordResponse(req *http.Request, resp *http.Response) {
	head := countWriter(0)
	resp.Header.Write(&head)
	size := int64(len(resp.Proto)+len(resp.Status)+3) + int64(head) + 2

	s.mu.Lock()
	defer s.mu.Unlock()
	s.headerSize += size
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		s.authAvail |= authSchemes(resp.Header.Values("WWW-Authenticate"))
	case http.StatusProxyAuthRequired:
		s.proxyAuthAvail |= authSchemes(resp.Header.Values("Proxy-Authenticate"))
	}
	for _, cookie := range resp.Cookies() {
		s.cookies = append(s.cookies, netscapeCookie(req.URL, cookie))
	}
}

func (s *httpSession) Info(key StatKey) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := s.response
	if resp == nil || len(s.hops) == 0 {
		return nil, ErrNoValue
	}
	last := s.hops[len(s.hops)-1]
	total := s.end.Sub(s.start)
	redirectTime := time.Duration(0)
	if len(s.hops) > 1 {
		redirectTime = last.start.Sub(s.start)
	}
	nameLookup := offset(s.start, last.dnsDone, offset(s.start, last.getConn, redirectTime))
	connect := offset(s.start, last.connectDone, nameLookup)
	appConnect := time.Duration(0)
	if last.tls {
		appConnect = offset(s.start, last.tlsDone, connect)
	}
	pretransfer := offset(s.start, last.gotConn, connect)

	switch key {
	case StatContentType:
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			return ct, nil
		}
		return nil, ErrNoValue
	case StatHTTPCode:
		return int64(resp.StatusCode), nil
	case StatHTTPConnectCode, StatProxySSLVerifyResult:
		if s.proxied {
			return nil, ErrUnsupported
		}
		return int64(0), nil
	case StatHTTPVersion:
		return httpVersion(resp), nil
	case StatLocalIP:
		return addrIP(last.localAddr)
	case StatLocalPort:
		return addrPort(last.localAddr)
	case StatPrimaryIP:
		return addrIP(last.remoteAddr)
	case StatPrimaryPort:
		return addrPort(last.remoteAddr)
	case StatNumConnects:
		return s.numConnects, nil
	case StatRedirectCount:
		return int64(len(s.hops) - 1), nil
	case StatRedirectTime:
		return redirectTime.Seconds(), nil
	case StatRedirectURL:
		return redirectURL(resp)
	case StatSizeDownload:
		return s.download.Count(), nil
	case StatSizeUpload:
		return s.upload.Count(), nil
	case StatHeaderSize:
		return s.headerSize, nil
	case StatRequestSize:
		return s.requestSize, nil
	case StatSpeedDownload:
		return speed(s.download.Count(), total), nil
	case StatSpeedUpload:
		return speed(s.upload.Count(), total), nil
	case StatContentLengthDownload:
		return resp.ContentLength, nil
	case StatContentLengthUpload:
		if s.body == nil {
			return int64(-1), nil
		}
		return int64(len(s.body)), nil
	case StatNameLookupTime:
		return nameLookup.Seconds(), nil
	case StatConnectTime:
		return connect.Seconds(), nil
	case StatAppConnectTime:
		return appConnect.Seconds(), nil
	case StatPretransferTime:
		return pretransfer.Seconds(), nil
	case StatStartTransferTime:
		return offset(s.start, last.firstByte, pretransfer).Seconds(), nil
	case StatTotalTime:
		return total.Seconds(), nil
	case StatEffectiveURL:
		return resp.Request.URL.String(), nil
	case StatOSErrno:
		return s.osErrno, nil
	case StatSSLVerifyResult:
		return s.verifyResult, nil
	case StatHTTPAuthAvail:
		return s.authAvail, nil
	case StatProxyAuthAvail:
		return s.proxyAuthAvail, nil
	case StatFileTime:
		if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
			return t.Unix(), nil
		}
		return int64(-1), nil
	case StatCookieList:
		return append([]string{}, s.cookies...), nil
	case StatProtocol:
		if resp.Request.URL.Scheme == "https" {
			return ProtoHTTPS, nil
		}
		return ProtoHTTP, nil
	case StatCertInfo:
		return certInfo(s.peerCerts), nil
	case StatConditionUnmet:
		if resp.StatusCode == http.StatusNotModified {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, ErrUnsupported
}

func httpVersion(resp *http.Response) int64 {
	switch {
	case resp.ProtoMajor == 3:
		return HTTPVersion3
	case resp.ProtoMajor == 2:
		return HTTPVersion2
	case resp.ProtoMajor == 1 && resp.ProtoMinor == 0:
		return HTTPVersion10
	}
	return HTTPVersion11
}

func redirectURL(resp *http.Response) (interface{}, error) {
	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return nil, ErrNoValue
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, ErrNoValue
	}
	return url.ResolveReference(resp.Request.URL.String(), loc)
}

func addrIP(addr net.Addr) (interface{}, error) {
	if addr == nil {
		return nil, ErrNoValue
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, err
	}
	return host, nil
}

func addrPort(addr net.Addr) (interface{}, error) {
	if addr == nil {
		return nil, ErrNoValue
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, err
	}
	return strconv.ParseInt(port, 10, 64)
}

// authSchemes folds WWW-Authenticate challenges into CURLAUTH bits.
// One header value may carry several challenges separated by commas.
func authSchemes(values []string) int64 {
	var avail int64
	for _, value := range values {
		for _, element := range splitChallenges(value) {
			element = strings.TrimSpace(element)
			end := strings.IndexAny(element, " \t=")
			if end == 0 || (end > 0 && element[end] == '=') {
				// auth-param of the previous challenge
				continue
			}
			scheme := element
			if end > 0 {
				scheme = element[:end]
			}
			avail |= authBit(strings.ToLower(scheme))
		}
	}
	return avail
}

// splitChallenges splits at commas outside quoted strings.
func splitChallenges(value string) []string {
	var elements []string
	var quoted, escaped bool
	start := 0
	for i := 0; i < len(value); i++ {
		switch c := value[i]; {
		case escaped:
			escaped = false
		case c == '\\' && quoted:
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == ',' && !quoted:
			elements = append(elements, value[start:i])
			start = i + 1
		}
	}
	return append(elements, value[start:])
}

func authBit(scheme string) int64 {
	switch scheme {
	case "basic":
		return AuthBasic
	case "digest":
		return AuthDigest
	case "negotiate":
		return AuthNegotiate
	case "ntlm":
		return AuthNTLM
	case "bearer":
		return AuthBearer
	case "aws4-hmac-sha256":
		return AuthAWSSigV4
	}
	return 0
}

// netscapeCookie formats a received cookie as a line of a Netscape cookie file.
func netscapeCookie(u *neturl.URL, cookie *http.Cookie) string {
	domain := u.Hostname()
	includeSubdomains := "FALSE"
	if cookie.Domain != "" {
		domain = "." + strings.TrimPrefix(cookie.Domain, ".")
		includeSubdomains = "TRUE"
	}
	if cookie.HttpOnly {
		domain = "#HttpOnly_" + domain
	}
	path := cookie.Path
	if path == "" {
		path = "/"
	}
	secure := "FALSE"
	if cookie.Secure {
		secure = "TRUE"
	}
	var expires int64
	if cookie.MaxAge > 0 {
		expires = time.Now().Add(time.Duration(cookie.MaxAge) * time.Second).Unix()
	} else if !cookie.Expires.IsZero() {
		expires = cookie.Expires.Unix()
	}
	return strings.Join([]string{
		domain, includeSubdomains, path, secure, strconv.FormatInt(expires, 10), cookie.Name, cookie.Value,
	}, "\t")
}

type countWriter int64

func (w *countWriter) Write(p []byte) (int, error) {
	*w += countWriter(len(p))
	return len(p), nil
}
