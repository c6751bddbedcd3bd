// Package streamurl parses and canonicalizes the vhost/app/stream
// triple used as the mutex key for publish admission and the hash key
// for source lookup across every protocol (§3).
package streamurl

import (
	"fmt"
	"regexp"
	"strings"
)

// URL is the canonical stream identity.
type URL struct {
	Vhost  string
	App    string
	Stream string
}

var knownExtensions = []string{".flv", ".m3u8", ".ts", ".m4s", ".mp4"}

var vhostPathSegment = regexp.MustCompile(`/vhost/([^/?]+)`)

// Parse normalizes a raw stream path into its canonical URL.
//
// Historical RTMP clients produce two distinct malformations of the
// vhost position: a literal "/vhost/X/" path segment, and a query
// string embedded ahead of the trailing stream segment
// ("app?vhost=X/stream" instead of "app/stream?vhost=X"). Both are
// rewritten, in a fixed order, into "app/stream?vhost=X" before the
// triple is split out:
//
//  1. rewrite any "/vhost/X/" path segment into a "?vhost=X" query
//     parameter first;
//  2. only then, if the path still has a query string embedded ahead
//     of the trailing path segment, move it after that segment.
//
// Doing the path-segment rewrite first means a URL carrying both
// malformations always converges on the same canonical key regardless
// of which malformation the client produced first.
func Parse(raw string) (URL, error) {
	raw = strings.TrimSpace(raw)
	raw = stripScheme(raw)
	raw = rewriteVhostSegment(raw)
	raw = reorderQueryBeforeStream(raw)

	path, vhostFromQuery := splitQueryVhost(raw)
	path = stripExtension(path)
	path = strings.Trim(path, "/")

	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return URL{}, fmt.Errorf("streamurl: need at least app/stream, got %q", raw)
	}

	stream := parts[len(parts)-1]
	app := strings.Join(parts[:len(parts)-1], "/")
	vhost := vhostFromQuery
	if vhost == "" {
		vhost = "__defaultVhost__"
	}
	if stream == "" || app == "" {
		return URL{}, fmt.Errorf("streamurl: empty app or stream in %q", raw)
	}
	return URL{Vhost: vhost, App: app, Stream: stream}, nil
}

func stripScheme(s string) string {
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		if i := strings.Index(s, "/"); i >= 0 {
			s = s[i:]
		} else {
			s = "/"
		}
	}
	return s
}

// rewriteVhostSegment turns ".../vhost/X/..." into "...?vhost=X&..." by
// removing the path segment and appending the query parameter.
func rewriteVhostSegment(s string) string {
	m := vhostPathSegment.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	vhost := m[1]
	s = vhostPathSegment.ReplaceAllString(s, "")
	sep := "?"
	if strings.Contains(s, "?") {
		sep = "&"
	}
	return s + sep + "vhost=" + vhost
}

// reorderQueryBeforeStream rewrites "app?vhost=X/stream" into
// "app/stream?vhost=X" when the query string appears before the final
// path segment instead of after it.
func reorderQueryBeforeStream(s string) string {
	qi := strings.Index(s, "?")
	if qi < 0 {
		return s
	}
	before, after := s[:qi], s[qi+1:]
	if !strings.Contains(after, "/") {
		return s
	}
	slash := strings.Index(after, "/")
	query := after[:slash]
	stream := after[slash+1:]
	return before + "/" + stream + "?" + query
}

func splitQueryVhost(s string) (path string, vhost string) {
	qi := strings.Index(s, "?")
	if qi < 0 {
		return s, ""
	}
	path = s[:qi]
	for _, kv := range strings.Split(s[qi+1:], "&") {
		if strings.HasPrefix(kv, "vhost=") {
			vhost = strings.TrimPrefix(kv, "vhost=")
		}
	}
	return path, vhost
}

func stripExtension(path string) string {
	for _, ext := range knownExtensions {
		if strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext)
		}
	}
	return path
}

// Canonical returns the "vhost/app/stream" key used for source lookup
// and publish-token admission.
func (u URL) Canonical() string {
	return u.Vhost + "/" + u.App + "/" + u.Stream
}

func (u URL) String() string { return u.Canonical() }
