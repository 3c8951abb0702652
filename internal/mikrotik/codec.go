// Package mikrotik implements the flat text channel spoken by RouterOS
// scripts: semicolon-delimited fields, newline-delimited records. The
// format is deliberately primitive because the router side parses it with
// :find and :pick only.
package mikrotik

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ActTimeLayout is the timestamp layout the portal writes into user
// comments.
const ActTimeLayout = "1/2/2006 15:04:05"

// actTimeLayouts are the accepted stamp layouts on ingest. The on-login
// hook stamps `/system clock get date`, which RouterOS renders
// month-name formatted before 7.10 (dec/04/2025) and ISO from 7.10 on.
var actTimeLayouts = []string{
	ActTimeLayout,
	"Jan/02/2006 15:04:05",
	"2006-01-02 15:04:05",
}

// usageFieldCount is the number of fields in a usage record. The comment
// is last and absorbs any embedded delimiters.
const usageFieldCount = 6

var actMarkerRe = regexp.MustCompile(`(?i)act[:=]\s*([^|]+)`)

// UserLine is one voucher record on the wire:
// username;password;profile;comment
type UserLine struct {
	Username string
	Password string
	Profile  string
	Comment  string
}

// ProfileLine is one profile record on the wire:
// name;shared_users;rate_limit
type ProfileLine struct {
	Name        string
	SharedUsers int
	RateLimit   string
}

// UsageLine is one usage record pushed by a router:
// username;mac;bytes_in;bytes_out;uptime;comment
//
// RouterOS reports bytes-in as the client's upload, so ingestion swaps
// the counters before storing download/upload.
type UsageLine struct {
	Username string
	MAC      string
	BytesIn  int64
	BytesOut int64
	Uptime   string
	Comment  string
}

// EncodeUserLines renders voucher records for a router pull.
func EncodeUserLines(lines []UserLine) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Username)
		b.WriteByte(';')
		b.WriteString(l.Password)
		b.WriteByte(';')
		b.WriteString(l.Profile)
		b.WriteByte(';')
		b.WriteString(l.Comment)
		b.WriteByte('\n')
	}
	return b.String()
}

// EncodeProfileLines renders profile records for a router pull.
func EncodeProfileLines(lines []ProfileLine) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Name)
		b.WriteByte(';')
		b.WriteString(strconv.Itoa(l.SharedUsers))
		b.WriteByte(';')
		b.WriteString(l.RateLimit)
		b.WriteByte('\n')
	}
	return b.String()
}

// DecodeUsageLines parses a usage push body. Malformed records are
// skipped, never fatal: blank lines, records with too few fields, and
// unparsable counters (treated as zero) all pass through silently so one
// bad row cannot poison a push.
func DecodeUsageLines(body string) []UsageLine {
	var records []UsageLine
	for _, raw := range strings.Split(body, "\n") {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.SplitN(line, ";", usageFieldCount)
		if len(fields) < usageFieldCount {
			continue
		}

		records = append(records, UsageLine{
			Username: strings.TrimSpace(fields[0]),
			MAC:      strings.TrimSpace(fields[1]),
			BytesIn:  parseInt64(fields[2]),
			BytesOut: parseInt64(fields[3]),
			Uptime:   strings.TrimSpace(fields[4]),
			Comment:  strings.TrimSpace(fields[5]),
		})
	}
	return records
}

// HasActivationMarker reports whether a comment carries an activation
// stamp ("Act:" from the portal, "ACT=" from the on-login hook).
func HasActivationMarker(comment string) bool {
	lower := strings.ToLower(comment)
	return strings.Contains(lower, "act:") || strings.Contains(lower, "act=")
}

// ParseActivationTime extracts the activation timestamp from a comment.
// The stamp runs to the next pipe separator or end of comment.
func ParseActivationTime(comment string) (time.Time, bool) {
	m := actMarkerRe.FindStringSubmatch(comment)
	if m == nil {
		return time.Time{}, false
	}
	stamp := strings.TrimSpace(m[1])
	for _, layout := range actTimeLayouts {
		if t, err := time.Parse(layout, stamp); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseNameList splits a comma-separated name list submitted by the
// orphan cleanup scripts. Empty entries are dropped.
func ParseNameList(body string) []string {
	var names []string
	for _, part := range strings.Split(body, ",") {
		name := strings.TrimSpace(part)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// EncodeNameList renders orphan names for a router, one per line.
func EncodeNameList(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.Join(names, "\n") + "\n"
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
