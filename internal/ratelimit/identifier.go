package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// UnknownIdentifier is used in place of a client IP when no request header
// carries one. All such clients share a bucket.
const UnknownIdentifier = "unknown"

// RequestMeta holds the request signals used to identify a client.
type RequestMeta struct {
	ForwardedFor string // X-Forwarded-For chain
	RealIP       string // X-Real-IP
	CDNIP        string // CF-Connecting-IP
	UserAgent    string
}

// MetaFromRequest reads the identifying headers of r.
func MetaFromRequest(r *http.Request) RequestMeta {
	return RequestMeta{
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RealIP:       r.Header.Get("X-Real-IP"),
		CDNIP:        r.Header.Get("CF-Connecting-IP"),
		UserAgent:    r.Header.Get("User-Agent"),
	}
}

// DeriveIdentifier returns "<ip>:<hash(user agent)>". The IP is the first
// non-empty of the first forwarded-for entry, the real-IP header and the CDN
// header, falling back to UnknownIdentifier.
func DeriveIdentifier(meta RequestMeta) string {
	return ResolveIP(meta) + ":" + HashUserAgent(meta.UserAgent)
}

// ResolveIP applies the header resolution order of DeriveIdentifier.
func ResolveIP(meta RequestMeta) string {
	if meta.ForwardedFor != "" {
		first, _, _ := strings.Cut(meta.ForwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(meta.RealIP); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(meta.CDNIP); ip != "" {
		return ip
	}
	return UnknownIdentifier
}

// HashUserAgent is a deterministic, non-cryptographic digest used only for
// bucketing.
func HashUserAgent(userAgent string) string {
	return strconv.FormatUint(xxhash.Sum64String(userAgent), 36)
}

// KeyFunc extracts the rate limit identifier from a request.
type KeyFunc func(r *http.Request) string

// IdentifierFromRequest returns a KeyFunc built on DeriveIdentifier. When
// trustRemoteAddr is set, the connection address is consulted before the
// unknown sentinel.
func IdentifierFromRequest(trustRemoteAddr bool) KeyFunc {
	return func(r *http.Request) string {
		meta := MetaFromRequest(r)
		ip := ResolveIP(meta)
		if ip == UnknownIdentifier && trustRemoteAddr {
			if host := remoteHost(r.RemoteAddr); host != "" {
				ip = host
			}
		}
		return ip + ":" + HashUserAgent(meta.UserAgent)
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.TrimSpace(addr)
	}
	return host
}
