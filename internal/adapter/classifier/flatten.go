// Package classifier labels flattened event records as normal or anomalous.
package classifier

import (
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

// Labels produced by the classifiers in this package.
const (
	LabelNormal  = "normal"
	LabelAnomaly = "anomaly"
)

var lineEscaper = strings.NewReplacer("\n", `\n`, "\r", `\r`)

// field is one entry of the flattening table. Empty values are omitted.
type field struct {
	key   string
	value func(r *domain.Record) string
}

// flattenFields lists the record fields in schema declaration order.
var flattenFields = []field{
	{"_id", func(r *domain.Record) string { return r.ClientID }},
	{"agent_id", func(r *domain.Record) string { return r.AgentID }},
	{"record_id", func(r *domain.Record) string { return strconv.FormatInt(r.RecordID, 10) }},
	{"timestamp", func(r *domain.Record) string { return r.Timestamp.UTC().Format(time.RFC3339Nano) }},
	{"channel", func(r *domain.Record) string { return r.Channel }},
	{"event_id", func(r *domain.Record) string { return strconv.Itoa(r.EventID) }},
	{"provider", func(r *domain.Record) string { return r.Provider }},
	{"event_host", func(r *domain.Record) string { return r.EventHost }},
	{"user_sid", func(r *domain.Record) string { return r.UserSID }},
	{"level", func(r *domain.Record) string { return r.Level }},
	{"level_code", func(r *domain.Record) string { return strconv.Itoa(r.LevelCode) }},
	{"message", func(r *domain.Record) string { return strings.Join(r.Message, " ") }},
}

// Flatten projects a record into a single line of key=value tokens joined by
// spaces. The output depends only on the record's field values.
func Flatten(r domain.Record) string {
	var b strings.Builder
	for _, f := range flattenFields {
		v := f.value(&r)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(lineEscaper.Replace(v))
	}
	return b.String()
}
