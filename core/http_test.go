package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hello":
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
			w.Write([]byte("hello curlb"))
		case "/echo":
			w.Header().Set("X-Method", r.Method)
			w.Header().Set("X-Content-Type", r.Header.Get("Content-Type"))
			w.Header().Set("X-Foo", r.Header.Get("X-Foo"))
			io.Copy(w, r.Body)
		case "/gzip":
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			zw.Write([]byte(strings.Repeat("curlb", 100)))
			zw.Close()
			w.Header().Set("Content-Encoding", "gzip")
			w.Write(buf.Bytes())
		case "/redirect":
			http.Redirect(w, r, "/hello", http.StatusFound)
		case "/loop":
			http.Redirect(w, r, "/loop", http.StatusFound)
		case "/cookie":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/", HttpOnly: true})
			w.WriteHeader(http.StatusNoContent)
		case "/auth":
			w.Header().Add("WWW-Authenticate", `Basic realm="curlb"`)
			w.Header().Add("WWW-Authenticate", `Digest realm="curlb", nonce="x"`)
			w.WriteHeader(http.StatusUnauthorized)
		case "/not_modified":
			w.WriteHeader(http.StatusNotModified)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunnerHTTP(t *testing.T) {
	server := newTestServer(t)
	runner := NewRunner(nil)

	t.Run("200_ok", func(t *testing.T) {
		result, err := runner.Perform(context.Background(), NewConfig(server.URL+"/hello"))
		require.NoError(t, err)
		assert.Equal(t, "hello curlb", string(result.Body))
		info := result.Info
		assert.Equal(t, int64(200), info["http_code"])
		assert.Equal(t, "text/plain", info["content_type"])
		assert.Equal(t, HTTPVersion11, info["http_version"])
		assert.Equal(t, ProtoHTTP, info["protocol"])
		assert.Equal(t, int64(11), info["size_download"])
		assert.Equal(t, int64(0), info["size_upload"])
		assert.Equal(t, int64(11), info["content_length_download"])
		assert.Equal(t, int64(-1), info["content_length_upload"])
		assert.Equal(t, int64(1), info["num_connects"])
		assert.Equal(t, int64(0), info["redirect_count"])
		assert.Equal(t, int64(1445412480), info["filetime"])
		assert.Equal(t, "127.0.0.1", info["primary_ip"])
		assert.Equal(t, "127.0.0.1", info["local_ip"])
		assert.Equal(t, server.URL+"/hello", info["effective_url"])
		assert.Equal(t, float64(0), info["appconnect_time"])
		assert.Greater(t, info["header_size"], int64(0))
		assert.Greater(t, info["request_size"], int64(0))
		assert.Greater(t, info["total_time"], float64(0))
		assert.LessOrEqual(t, info["connect_time"], info["total_time"])
		assert.LessOrEqual(t, info["starttransfer_time"], info["total_time"])
		assert.NotContains(t, info, "ftp_entry_path")
		assert.NotContains(t, info, "ssl_engines")
		assert.NotContains(t, info, "redirect_url")
	})

	t.Run("post_data", func(t *testing.T) {
		config := NewConfig(server.URL + "/echo")
		body := "foo=bar&baz=qux"
		config.Body = &body
		config.Header.Set("X-Foo", "foo")
		result, err := runner.Perform(context.Background(), config)
		require.NoError(t, err)
		assert.Equal(t, body, string(result.Body))
		assert.Equal(t, int64(len(body)), result.Info["size_upload"])
		assert.Equal(t, int64(len(body)), result.Info["content_length_upload"])
	})

	t.Run("custom_method", func(t *testing.T) {
		var trace bytes.Buffer
		config := NewConfig(server.URL + "/echo")
		config.Method = http.MethodPut
		config.Verbose = true
		config.Header.Set("X-Foo", "foo")
		result, err := (&Runner{Engines: DefaultEngines(), Trace: &trace}).Perform(context.Background(), config)
		require.NoError(t, err)
		assert.Equal(t, int64(200), result.Info["http_code"])
		assert.Contains(t, trace.String(), "> PUT /echo HTTP/1.1")
		assert.Contains(t, trace.String(), "> X-Foo: foo")
		assert.Contains(t, trace.String(), "< X-Method: PUT")
	})

	t.Run("compressed", func(t *testing.T) {
		config := NewConfig(server.URL + "/gzip")
		config.Compressed = true
		result, err := runner.Perform(context.Background(), config)
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("curlb", 100), string(result.Body))
		assert.Less(t, result.Info["size_download"], int64(500))
	})

	t.Run("not_compressed", func(t *testing.T) {
		result, err := runner.Perform(context.Background(), NewConfig(server.URL+"/gzip"))
		require.NoError(t, err)
		assert.Equal(t, int64(len(result.Body)), result.Info["size_download"])
		assert.NotEqual(t, strings.Repeat("curlb", 100), string(result.Body))
	})

	t.Run("redirect_without_location", func(t *testing.T) {
		result, err := runner.Perform(context.Background(), NewConfig(server.URL+"/redirect"))
		require.NoError(t, err)
		assert.Equal(t, int64(302), result.Info["http_code"])
		assert.Equal(t, int64(0), result.Info["redirect_count"])
		assert.Equal(t, server.URL+"/hello", result.Info["redirect_url"])
	})

	t.Run("follow_location", func(t *testing.T) {
		config := NewConfig(server.URL + "/redirect")
		config.FollowLocation = true
		result, err := runner.Perform(context.Background(), config)
		require.NoError(t, err)
		assert.Equal(t, "hello curlb", string(result.Body))
		assert.Equal(t, int64(200), result.Info["http_code"])
		assert.Equal(t, int64(1), result.Info["redirect_count"])
		assert.Equal(t, server.URL+"/hello", result.Info["effective_url"])
		assert.Greater(t, result.Info["redirect_time"], float64(0))
		assert.NotContains(t, result.Info, "redirect_url")
	})

	t.Run("too_many_redirects", func(t *testing.T) {
		config := NewConfig(server.URL + "/loop")
		config.FollowLocation = true
		config.MaxRedirects = 2
		_, err := runner.Perform(context.Background(), config)
		var te *TransferError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, CodeTooManyRedirects, te.Code)
	})

	t.Run("cookie", func(t *testing.T) {
		result, err := runner.Perform(context.Background(), NewConfig(server.URL+"/cookie"))
		require.NoError(t, err)
		assert.Equal(t, []string{"#HttpOnly_127.0.0.1\tFALSE\t/\tFALSE\t0\tsession\tabc"}, result.Info["cookielist"])
	})

	t.Run("auth_avail", func(t *testing.T) {
		result, err := runner.Perform(context.Background(), NewConfig(server.URL+"/auth"))
		require.NoError(t, err)
		assert.Equal(t, int64(401), result.Info["http_code"])
		assert.Equal(t, AuthBasic|AuthDigest, result.Info["httpauth_avail"])
	})

	t.Run("condition_unmet", func(t *testing.T) {
		result, err := runner.Perform(context.Background(), NewConfig(server.URL+"/not_modified"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Info["condition_unmet"])
	})

	t.Run("404_not_found", func(t *testing.T) {
		result, err := runner.Perform(context.Background(), NewConfig(server.URL+"/not_found"))
		require.NoError(t, err)
		assert.Equal(t, int64(404), result.Info["http_code"])
	})
}

func TestRunnerHTTPS(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secure"))
	}))
	defer server.Close()
	runner := NewRunner(nil)

	t.Run("verify_failed", func(t *testing.T) {
		_, err := runner.Perform(context.Background(), NewConfig(server.URL))
		var te *TransferError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, CodePeerFailedVerification, te.Code)
	})

	t.Run("insecure", func(t *testing.T) {
		config := NewConfig(server.URL)
		config.Insecure = true
		result, err := runner.Perform(context.Background(), config)
		require.NoError(t, err)
		assert.Equal(t, "secure", string(result.Body))
		assert.Equal(t, ProtoHTTPS, result.Info["protocol"])
		assert.NotEqual(t, int64(verifyOK), result.Info["ssl_verifyresult"])
		assert.Greater(t, result.Info["appconnect_time"], float64(0))
		require.IsType(t, []interface{}{}, result.Info["certinfo"])
		assert.Len(t, result.Info["certinfo"], 1)
	})
}

func TestRunnerHTTPConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewRunner(nil).Perform(context.Background(), NewConfig("http://"+addr+"/"))
	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, CodeCouldntConnect, te.Code)
}

func TestRunnerHTTPConnectTimeout(t *testing.T) {
	config := NewConfig("http://127.0.0.1/")
	ms := 1500
	config.ConnectTimeoutSeconds = 10
	config.ConnectTimeoutMillis = &ms
	opts := NewRunner(nil).options(config, config.URL, io.Discard)
	session, err := NewHTTPSession(opts)
	require.NoError(t, err)
	defer session.Close()
	assert.Equal(t, 1500*time.Millisecond, session.(*httpSession).dialer.Timeout)
}

func TestAuthSchemes(t *testing.T) {
	assert.Equal(t, int64(0), authSchemes(nil))
	assert.Equal(t, AuthBasic, authSchemes([]string{`Basic realm="x"`}))
	assert.Equal(t, AuthNegotiate|AuthNTLM, authSchemes([]string{"Negotiate", "NTLM"}))
	assert.Equal(t, AuthBearer|AuthAWSSigV4, authSchemes([]string{"Bearer, AWS4-HMAC-SHA256 Credential=x"}))
	assert.Equal(t, AuthBasic|AuthDigest, authSchemes([]string{`Basic realm="a", Digest realm="b", nonce="x"`}))
	assert.Equal(t, AuthBasic, authSchemes([]string{`Basic realm="a, Negotiate"`}))
	assert.Equal(t, AuthDigest|AuthNTLM, authSchemes([]string{`Digest realm="a\", NTLM", qop="auth", NTLM`}))
	assert.Equal(t, int64(0), authSchemes([]string{`Unknown realm="x"`}))
}

func TestSplitChallenges(t *testing.T) {
	assert.Equal(t, []string{"Basic realm=\"a, b\"", " Bearer"}, splitChallenges(`Basic realm="a, b", Bearer`))
	assert.Equal(t, []string{"Negotiate"}, splitChallenges("Negotiate"))
}

func TestRunnerHTTPSConnectTimeout(t *testing.T) {
	// accepts the connection and never answers the TLS handshake
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	config := NewConfig("https://" + ln.Addr().String() + "/")
	ms := 500
	config.ConnectTimeoutMillis = &ms
	start := time.Now()
	_, err = NewRunner(nil).Perform(context.Background(), config)
	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, CodeOperationTimedout, te.Code)
	assert.Less(t, time.Since(start).Seconds(), float64(0.9))
}

func TestHTTPVersion(t *testing.T) {
	assert.Equal(t, HTTPVersion10, httpVersion(&http.Response{ProtoMajor: 1, ProtoMinor: 0}))
	assert.Equal(t, HTTPVersion11, httpVersion(&http.Response{ProtoMajor: 1, ProtoMinor: 1}))
	assert.Equal(t, HTTPVersion2, httpVersion(&http.Response{ProtoMajor: 2}))
	assert.Equal(t, HTTPVersion3, httpVersion(&http.Response{ProtoMajor: 3}))
}

func TestRunnerHTTPConnectTimeoutMillis(t *testing.T) {
	config := NewConfig("http://192.0.2.1:81/")
	ms := 200
	config.ConnectTimeoutSeconds = 30
	config.ConnectTimeoutMillis = &ms

	start := time.Now()
	_, err := NewRunner(nil).Perform(context.Background(), config)
	var te *TransferError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, []int{CodeOperationTimedout, CodeCouldntConnect}, te.Code)
	assert.Less(t, time.Since(start).Seconds(), float64(5))
}
