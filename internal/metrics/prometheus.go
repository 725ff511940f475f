package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// Exposition controls how a scrape renders.
type Exposition struct {
	// Namespace prefixes every metric name. Defaults to "pong".
	Namespace string

	// Gauges is sampled on every scrape. Keys become metric names under
	// Namespace.
	Gauges func() map[string]float64
}

// PrometheusHandler serves m in the Prometheus text format. Counters share a
// single <namespace>_events_total metric keyed by an `event` label.
func PrometheusHandler(m *Metrics, exp Exposition) http.Handler {
	ns := sanitizeName(exp.Namespace)
	if ns == "" {
		ns = "pong"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		writeCounters(w, ns, m.Snapshot())
		if exp.Gauges != nil {
			writeGauges(w, ns, exp.Gauges())
		}
	})
}

var labelEscaper = strings.NewReplacer("\\", `\\`, "\"", `\"`, "\n", `\n`)

func writeCounters(w io.Writer, ns string, snap map[string]uint64) {
	name := ns + "_events_total"
	_, _ = fmt.Fprintf(w, "# HELP %s Event counters.\n", name)
	_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", name)
	for _, k := range sortedKeys(snap) {
		_, _ = fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", name, labelEscaper.Replace(k), snap[k])
	}
}

func writeGauges(w io.Writer, ns string, gauges map[string]float64) {
	for _, k := range sortedKeys(gauges) {
		suffix := sanitizeName(k)
		if suffix == "" {
			continue
		}
		name := ns + "_" + suffix
		_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		_, _ = fmt.Fprintf(w, "%s %g\n", name, gauges[k])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sanitizeName maps s onto the metric name alphabet [a-zA-Z0-9_].
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
