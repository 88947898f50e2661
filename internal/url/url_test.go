package url

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveReference(t *testing.T) {
	var u string
	var err error
	u, err = ResolveReference("https://foo.bar/baz/qux.quux", "corge.grault")
	require.NoError(t, err)
	assert.Equal(t, "https://foo.bar/baz/corge.grault", u)
	u, err = ResolveReference("https://foo.bar/baz/qux", "/login?next=qux")
	require.NoError(t, err)
	assert.Equal(t, "https://foo.bar/login?next=qux", u)
	u, err = ResolveReference("", "https://foo.bar/baz.qux")
	require.NoError(t, err)
	assert.Equal(t, "https://foo.bar/baz.qux", u)
	_, err = ResolveReference(":invalid URL", "https://foo.bar/baz.qux")
	assert.Error(t, err)
	_, err = ResolveReference("https://foo.bar/baz.qux", ":invalid URL")
	assert.Error(t, err)
}

func TestGuess(t *testing.T) {
	testCases := []struct {
		in       string
		expected string
	}{
		{in: "example.com", expected: "http://example.com"},
		{in: "example.com:8080/foo", expected: "http://example.com:8080/foo"},
		{in: "ftp.gnu.org/gnu/", expected: "ftp://ftp.gnu.org/gnu/"},
		{in: "FTP.example.com", expected: "ftp://FTP.example.com"},
		{in: "https://example.com", expected: "https://example.com"},
		{in: "ftps://ftp.example.com", expected: "ftps://ftp.example.com"},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.expected, Guess(tc.in))
		})
	}
}

func TestScheme(t *testing.T) {
	s, err := Scheme("HTTPS://foo.bar/baz")
	require.NoError(t, err)
	assert.Equal(t, "https", s)
	s, err = Scheme("/baz/qux")
	require.NoError(t, err)
	assert.Equal(t, "", s)
	_, err = Scheme("://foo.bar")
	assert.Error(t, err)
}

func TestHostPort(t *testing.T) {
	u, err := url.Parse("ftp://ftp.example.com/pub/")
	require.NoError(t, err)
	host, port := HostPort(u, "21")
	assert.Equal(t, "ftp.example.com", host)
	assert.Equal(t, "21", port)
	u, err = url.Parse("ftp://user:pass@[::1]:2121/")
	require.NoError(t, err)
	host, port = HostPort(u, "21")
	assert.Equal(t, "::1", host)
	assert.Equal(t, "2121", port)
}
