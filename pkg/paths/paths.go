// Package paths formats the persisted output path layouts (HLS
// segment/playlist, DVR recording) SRS configures as bracketed
// placeholder templates, e.g.
// "./[vhost]/[app]/[stream]/[2006]/[01]/[02]/[15].[04].[05].[999].flv"
// (original_source/trunk/src/utest/srs_utest_mock.hpp's
// get_dvr_path/get_dash_path mocks). This package only renders the
// string; actually writing to that path is out of scope (§6).
package paths

import (
	"strconv"
	"strings"
	"time"
)

// Vars names the per-request substitutions a template may reference.
type Vars struct {
	Vhost   string
	App     string
	Stream  string
	SeqNo   int
	At      time.Time
}

// dateTokens lists the bracketed date placeholders. The date tokens
// reuse Go's reference-time digits (2006, 01, 02, 15, 04,
// 05, 999) instead of SRS's own token set so the substitution can
// delegate straight to time.Format, matching the teacher's convention
// of leaning on the standard library's time formatting wherever a
// C++-ism would otherwise need hand-rolled zero-padding.
var dateTokens = []string{"2006", "01", "02", "15", "04", "05", "999"}

// Format substitutes every placeholder in template with the matching
// field from v. Unknown placeholders are left untouched so a typo in
// a config file surfaces in the output path instead of silently
// vanishing.
func Format(template string, v Vars) string {
	out := template
	out = strings.ReplaceAll(out, "[vhost]", v.Vhost)
	out = strings.ReplaceAll(out, "[app]", v.App)
	out = strings.ReplaceAll(out, "[stream]", v.Stream)
	out = strings.ReplaceAll(out, "[seq]", strconv.Itoa(v.SeqNo))
	out = strings.ReplaceAll(out, "[timestamp]", strconv.FormatInt(v.At.UnixMilli(), 10))

	for _, tok := range dateTokens {
		rendered := v.At.Format(tok)
		if tok == "999" {
			// Go reads 999 as milliseconds only after a dot.
			rendered = v.At.Format(".000")[1:]
		}
		out = strings.ReplaceAll(out, "["+tok+"]", rendered)
	}
	return out
}

// DefaultHLSPlaylist is SRS's own default m3u8 path layout.
const DefaultHLSPlaylist = "./[vhost]/[app]/[stream].m3u8"

// DefaultHLSSegment is SRS's own default .ts segment path layout.
const DefaultHLSSegment = "./[vhost]/[app]/[stream]-[seq].ts"

// DefaultDVRPath mirrors the teacher's DVR mock path layout.
const DefaultDVRPath = "./[vhost]/[app]/[stream]/[2006]/[01]/[02]/[15].[04].[05].[999].flv"
