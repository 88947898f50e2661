package core

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/abema/curlb/internal/url"
	"github.com/jlaffaye/ftp"
)

const (
	ftpAnonymousUser     = "anonymous"
	ftpAnonymousPassword = "ftp@example.com"
)

type ftpSession struct {
	opts      *Options
	url       *neturl.URL
	implicit  bool
	dialer    *net.Dialer
	tlsConfig *tls.Config
	conn      net.Conn
	client    *ftp.ServerConn
	tracer

	mu            sync.Mutex
	start         time.Time
	nameLookup    time.Duration
	connect       time.Duration
	appConnect    time.Duration
	pretransfer   time.Duration
	startTransfer time.Duration
	total         time.Duration
	entryPath     string
	replyCode     int64
	contentLength int64
	download      *countingReader
	upload        *countingReader
	osErrno       int64
	verifyResult  int64
	peerCerts     []*x509.Certificate
}

// NewFTPSession binds Options to an FTP client. ftps:// uses implicit TLS.
func NewFTPSession(opts *Options) (Session, error) {
	u, err := neturl.Parse(opts.URL)
	if err != nil {
		return nil, newTransferError(CodeURLMalformat, err)
	}
	if u.Hostname() == "" {
		return nil, newTransferError(CodeURLMalformat, fmt.Errorf("no host part in the URL: %s", opts.URL))
	}
	s := &ftpSession{
		opts:          opts,
		tracer:        newTracer(opts.Trace),
		url:           u,
		implicit:      strings.EqualFold(u.Scheme, "ftps"),
		dialer:        &net.Dialer{Timeout: opts.ConnectTimeout},
		contentLength: -1,
	}
	if s.implicit {
		s.tlsConfig = &tls.Config{
			ServerName:         u.Hostname(),
			InsecureSkipVerify: opts.Insecure,
			VerifyConnection:   s.verifyConnection,
			ClientSessionCache: tls.NewLRUClientSessionCache(0),
		}
	}
	return s, nil
}

func (s *ftpSession) Perform(ctx context.Context) error {
	s.start = time.Now()
	if s.opts.Method != "" {
		s.tracef("* Custom request method %s is ignored for FTP", s.opts.Method)
	}
	if err := s.dial(ctx); err != nil {
		return err
	}

	options := []ftp.DialOption{
		ftp.DialWithDialFunc(s.dialFunc(ctx)),
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(s.opts.ConnectTimeout),
		ftp.DialWithDebugOutput(&replyRecorder{session: s, trace: s.opts.Trace}),
	}
	if s.tlsConfig != nil {
		options = append(options, ftp.DialWithTLS(s.tlsConfig))
	}
	client, err := ftp.Dial(s.conn.RemoteAddr().String(), options...)
	if err != nil {
		return newTransferError(CodeRecvError, fmt.Errorf("failed to read FTP greeting: %w", err))
	}
	s.client = client

	user, password := ftpCredentials(s.url)
	if err := client.Login(user, password); err != nil {
		return newTransferError(ftpErrorCode(err, CodeLoginDenied), fmt.Errorf("access denied: %w", err))
	}
	if dir, err := client.CurrentDir(); err == nil {
		s.mu.Lock()
		s.entryPath = dir
		s.mu.Unlock()
	}
	s.mark(&s.pretransfer)

	p := s.url.Path
	switch {
	case s.opts.Body != nil:
		err = s.store(p)
	case p == "" || strings.HasSuffix(p, "/"):
		err = s.list(p)
	default:
		err = s.retrieve(p)
	}
	if err != nil {
		return err
	}
	s.mark(&s.total)
	return nil
}

// dial resolves and connects the control connection itself so that name lookup, connect
// and TLS handshake are timed separately and the connect timeout bounds all three.
func (s *ftpSession) dial(ctx context.Context) error {
	host, port := url.HostPort(s.url, s.defaultPort())
	if s.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return newTransferError(errorCode(err), fmt.Errorf("could not resolve host: %s: %w", host, err))
	}
	s.mark(&s.nameLookup)

	var conn net.Conn
	for _, addr := range addrs {
		target := net.JoinHostPort(addr.IP.String(), port)
		s.tracef("*   Trying %s...", target)
		conn, err = s.dialer.DialContext(ctx, "tcp", target)
		if err == nil {
			break
		}
		s.mu.Lock()
		s.osErrno = errnoOf(err)
		s.mu.Unlock()
	}
	if err != nil {
		return newTransferError(errorCode(err), fmt.Errorf("failed to connect to %s port %s: %w", host, port, err))
	}
	s.mark(&s.connect)
	s.tracef("* Connected to %s from %s", conn.RemoteAddr(), conn.LocalAddr())

	if s.tlsConfig != nil {
		tlsConn := tls.Client(conn, s.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return newTransferError(errorCode(err), err)
		}
		state := tlsConn.ConnectionState()
		s.tracef("* SSL connection using %s / %s", tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite))
		s.mark(&s.appConnect)
		conn = tlsConn
	}
	s.conn = conn
	return nil
}

// dialFunc hands the connected control connection to the client on the first call.
// Every later call opens a data connection, wrapped in TLS for ftps.
func (s *ftpSession) dialFunc(ctx context.Context) func(network, address string) (net.Conn, error) {
	control := s.conn
	return func(network, address string) (net.Conn, error) {
		if control != nil {
			conn := control
			control = nil
			return conn, nil
		}
		s.tracef("* Connecting to %s for data", address)
		conn, err := s.dialer.DialContext(ctx, network, address)
		if err != nil {
			return nil, err
		}
		if s.tlsConfig != nil {
			return tls.Client(conn, s.tlsConfig), nil
		}
		return conn, nil
	}
}

func (s *ftpSession) retrieve(p string) error {
	if size, err := s.client.FileSize(p); err == nil {
		s.mu.Lock()
		s.contentLength = size
		s.mu.Unlock()
	}
	resp, err := s.client.Retr(p)
	if err != nil {
		return newTransferError(ftpErrorCode(err, CodeRemoteFileNotFound), fmt.Errorf("failed to retrieve %s: %w", p, err))
	}
	s.mark(&s.startTransfer)
	err = s.copyDownload(resp)
	if cerr := resp.Close(); err == nil && cerr != nil {
		err = newTransferError(CodeRecvError, cerr)
	}
	return err
}

func (s *ftpSession) list(p string) error {
	if p == "" {
		p = "."
	}
	names, err := s.client.NameList(p)
	if err != nil {
		return newTransferError(ftpErrorCode(err, CodeRemoteFileNotFound), fmt.Errorf("failed to list %s: %w", p, err))
	}
	s.mark(&s.startTransfer)
	var listing strings.Builder
	for _, name := range names {
		listing.WriteString(name)
		listing.WriteString("\n")
	}
	return s.copyDownload(strings.NewReader(listing.String()))
}

func (s *ftpSession) copyDownload(r io.Reader) error {
	download := &countingReader{reader: r}
	s.mu.Lock()
	s.download = download
	s.mu.Unlock()
	if _, err := io.Copy(s.opts.Output, download); err != nil {
		return newTransferError(CodeRecvError, fmt.Errorf("failure when receiving data from the peer: %w", err))
	}
	return nil
}

func (s *ftpSession) store(p string) error {
	upload := &countingReader{reader: s.opts.Body}
	s.mu.Lock()
	s.upload = upload
	s.mu.Unlock()
	s.mark(&s.startTransfer)
	if err := s.client.Stor(p, upload); err != nil {
		return newTransferError(ftpErrorCode(err, CodeUploadFailed), fmt.Errorf("failed to store %s: %w", p, err))
	}
	return nil
}

func (s *ftpSession) Close() error {
	if s.client != nil {
		return s.client.Quit()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *ftpSession) Info(key StatKey) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch key {
	case StatFTPEntryPath:
		if s.entryPath == "" {
			return nil, ErrNoValue
		}
		return s.entryPath, nil
	case StatHTTPCode:
		if s.replyCode == 0 {
			return nil, ErrNoValue
		}
		return s.replyCode, nil
	case StatHTTPConnectCode, StatRedirectCount:
		return int64(0), nil
	case StatOSErrno:
		return s.osErrno, nil
	case StatRedirectTime:
		return float64(0), nil
	case StatLocalIP, StatLocalPort, StatPrimaryIP, StatPrimaryPort:
		return s.addrInfo(key)
	case StatNumConnects:
		return int64(1), nil
	case StatSizeDownload:
		return s.download.Count(), nil
	case StatSizeUpload:
		return s.upload.Count(), nil
	case StatSpeedDownload:
		return speed(s.download.Count(), s.total), nil
	case StatSpeedUpload:
		return speed(s.upload.Count(), s.total), nil
	case StatContentLengthDownload:
		return s.contentLength, nil
	case StatContentLengthUpload:
		if s.opts.Body == nil {
			return int64(-1), nil
		}
		return s.opts.BodySize, nil
	case StatNameLookupTime:
		return s.nameLookup.Seconds(), nil
	case StatConnectTime:
		return s.connect.Seconds(), nil
	case StatAppConnectTime:
		return s.appConnect.Seconds(), nil
	case StatPretransferTime:
		return s.pretransfer.Seconds(), nil
	case StatStartTransferTime:
		return s.startTransfer.Seconds(), nil
	case StatTotalTime:
		return s.total.Seconds(), nil
	case StatEffectiveURL:
		return s.opts.URL, nil
	case StatSSLVerifyResult:
		return s.verifyResult, nil
	case StatFileTime:
		return int64(-1), nil
	case StatProtocol:
		if s.implicit {
			return ProtoFTPS, nil
		}
		return ProtoFTP, nil
	case StatCertInfo:
		return certInfo(s.peerCerts), nil
	case StatConditionUnmet:
		return int64(0), nil
	}
	return nil, ErrUnsupported
}

func (s *ftpSession) addrInfo(key StatKey) (interface{}, error) {
	if s.conn == nil {
		return nil, ErrNoValue
	}
	switch key {
	case StatLocalIP:
		return addrIP(s.conn.LocalAddr())
	case StatLocalPort:
		return addrPort(s.conn.LocalAddr())
	case StatPrimaryIP:
		return addrIP(s.conn.RemoteAddr())
	}
	return addrPort(s.conn.RemoteAddr())
}

func (s *ftpSession) verifyConnection(cs tls.ConnectionState) error {
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

func (s *ftpSession) defaultPort() string {
	if s.implicit {
		return "990"
	}
	return "21"
}

// mark stores the time elapsed since the start of the transfer into d.
func (s *ftpSession) mark(d *time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*d = time.Since(s.start)
}

func ftpCredentials(u *neturl.URL) (string, string) {
	if u.User == nil || u.User.Username() == "" {
		return ftpAnonymousUser, ftpAnonymousPassword
	}
	password, _ := u.User.Password()
	return u.User.Username(), password
}

// ftpErrorCode maps FTP reply codes onto curl codes. 530 always means a refused login.
func ftpErrorCode(err error, fallback int) int {
	var protoErr *textproto.Error
	if !errors.As(err, &protoErr) {
		return errorCode(err)
	}
	if protoErr.Code == ftp.StatusNotLoggedIn {
		return CodeLoginDenied
	}
	return fallback
}

// replyRecorder sees the raw control connection traffic. It keeps the code of the
// last final reply line and forwards everything to the verbose trace.
type replyRecorder struct {
	session *ftpSession
	trace   io.Writer
	line    []byte
}

func (r *replyRecorder) Write(p []byte) (int, error) {
	if r.trace != nil {
		r.trace.Write(p)
	}
	for _, b := range p {
		if b != '\n' {
			r.line = append(r.line, b)
			continue
		}
		if code, ok := finalReplyCode(r.line); ok {
			r.session.mu.Lock()
			r.session.replyCode = code
			r.session.mu.Unlock()
		}
		r.line = r.line[:0]
	}
	return len(p), nil
}

// finalReplyCode parses "226 Transfer complete". Continuation lines ("211-...") and commands are ignored.
func finalReplyCode(line []byte) (int64, bool) {
	if len(line) < 4 || line[3] != ' ' {
		return 0, false
	}
	var code int64
	for _, b := range line[:3] {
		if b < '0' || b > '9' {
			return 0, false
		}
		code = code*10 + int64(b-'0')
	}
	return code, true
}
