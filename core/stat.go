package core

import (
	"errors"
	"sort"
)

type StatKey string

const (
	StatAppConnectTime        StatKey = "appconnect_time"
	StatCertInfo              StatKey = "certinfo"
	StatConditionUnmet        StatKey = "condition_unmet"
	StatConnectTime           StatKey = "connect_time"
	StatContentLengthDownload StatKey = "content_length_download"
	StatContentLengthUpload   StatKey = "content_length_upload"
	StatContentType           StatKey = "content_type"
	StatCookieList            StatKey = "cookielist"
	StatEffectiveURL          StatKey = "effective_url"
	StatFileTime              StatKey = "filetime"
	StatFTPEntryPath          StatKey = "ftp_entry_path"
	StatHeaderSize            StatKey = "header_size"
	StatHTTPCode              StatKey = "http_code"
	StatHTTPConnectCode       StatKey = "http_connectcode"
	StatHTTPVersion           StatKey = "http_version"
	StatHTTPAuthAvail         StatKey = "httpauth_avail"
	StatLocalIP               StatKey = "local_ip"
	StatLocalPort             StatKey = "local_port"
	StatNameLookupTime        StatKey = "namelookup_time"
	StatNumConnects           StatKey = "num_connects"
	StatOSErrno               StatKey = "os_errno"
	StatPretransferTime       StatKey = "pretransfer_time"
	StatPrimaryIP             StatKey = "primary_ip"
	StatPrimaryPort           StatKey = "primary_port"
	StatProtocol              StatKey = "protocol"
	StatProxySSLVerifyResult  StatKey = "proxy_ssl_verifyresult"
	StatProxyAuthAvail        StatKey = "proxyauth_avail"
	StatRedirectCount         StatKey = "redirect_count"
	StatRedirectTime          StatKey = "redirect_time"
	StatRedirectURL           StatKey = "redirect_url"
	StatRequestSize           StatKey = "request_size"
	StatSizeDownload          StatKey = "size_download"
	StatSizeUpload            StatKey = "size_upload"
	StatSpeedDownload         StatKey = "speed_download"
	StatSpeedUpload           StatKey = "speed_upload"
	StatSSLEngines            StatKey = "ssl_engines"
	StatSSLVerifyResult       StatKey = "ssl_verifyresult"
	StatStartTransferTime     StatKey = "starttransfer_time"
	StatTotalTime             StatKey = "total_time"
)

// StatKeys is the catalog read after every transfer, in curl's getinfo order.
var StatKeys = []StatKey{
	StatContentType,
	StatFTPEntryPath,
	StatHTTPCode,
	StatHTTPConnectCode,
	StatHTTPVersion,
	StatLocalIP,
	StatLocalPort,
	StatNumConnects,
	StatRedirectCount,
	StatRedirectTime,
	StatRedirectURL,
	StatPrimaryIP,
	StatPrimaryPort,
	StatSizeDownload,
	StatSizeUpload,
	StatHeaderSize,
	StatRequestSize,
	StatSpeedDownload,
	StatSpeedUpload,
	StatContentLengthDownload,
	StatContentLengthUpload,
	StatAppConnectTime,
	StatConnectTime,
	StatNameLookupTime,
	StatPretransferTime,
	StatStartTransferTime,
	StatTotalTime,
	StatEffectiveURL,
	StatOSErrno,
	StatSSLEngines,
	StatSSLVerifyResult,
	StatProxySSLVerifyResult,
	StatHTTPAuthAvail,
	StatProxyAuthAvail,
	StatFileTime,
	StatCookieList,
	StatProtocol,
	StatCertInfo,
	StatConditionUnmet,
}

var (
	// ErrUnsupported is returned by Session.Info for keys the engine cannot supply.
	ErrUnsupported = errors.New("unsupported statistic")
	// ErrNoValue is returned when the statistic exists but the transfer produced nothing for it.
	ErrNoValue     = errors.New("no value")
)

// curl's CURL_HTTP_VERSION_* values.
const (
	HTTPVersion10 int64 = 1
	HTTPVersion11 int64 = 2
	HTTPVersion2  int64 = 3
	HTTPVersion3  int64 = 30
)

// curl's CURLPROTO_* values.
const (
	ProtoHTTP  int64 = 1 << 0
	ProtoHTTPS int64 = 1 << 1
	ProtoFTP   int64 = 1 << 2
	ProtoFTPS  int64 = 1 << 3
)

// curl's CURLAUTH_* values.
const (
	AuthBasic     int64 = 1 << 0
	AuthDigest    int64 = 1 << 1
	AuthNegotiate int64 = 1 << 2
	AuthNTLM      int64 = 1 << 3
	AuthBearer    int64 = 1 << 6
	AuthAWSSigV4  int64 = 1 << 7
)

type Info map[string]interface{}

func (info Info) Keys() []string {
	keys := make([]string, 0, len(info))
	for key := range info {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type Result struct {
	Info Info
	Body []byte
}
