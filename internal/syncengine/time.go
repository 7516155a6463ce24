package syncengine

import "time"

// parseUpstreamTime converts an RFC 3339 timestamp from the upstream REST
// API to a unix epoch second, defaulting to 0 on a malformed value rather
// than failing the whole reconcile over one bad field.
func parseUpstreamTime(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// parseUpstreamTimePtr is parseUpstreamTime for the optional merged_at
// field, preserving nil when absent.
func parseUpstreamTimePtr(s *string) *int64 {
	if s == nil {
		return nil
	}
	t := parseUpstreamTime(*s)
	return &t
}
