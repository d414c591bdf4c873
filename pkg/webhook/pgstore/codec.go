package pgstore

import (
	"net/http"
	"time"
)

func toMillis(d time.Duration) int64 { return d.Milliseconds() }

func fromMillis(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

func millisList(ds []time.Duration) []int64 {
	out := make([]int64, len(ds))
	for i, d := range ds {
		out[i] = toMillis(d)
	}
	return out
}

func durationList(ms []int64) []time.Duration {
	if len(ms) == 0 {
		return nil
	}
	out := make([]time.Duration, len(ms))
	for i, v := range ms {
		out[i] = fromMillis(v)
	}
	return out
}

// pgx writes nil maps as SQL NULL; the jsonb columns are NOT NULL.

func stringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func header(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h
}

func stringList(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
