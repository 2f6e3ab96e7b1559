package cache

import "strings"

// Slice keys are slash separated paths. Invalidating a key invalidates
// every slice at or below it.

func key(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// CallsList is the call list, optionally narrowed by a filter fingerprint
func CallsList(hospitalID string, filters ...string) string {
	return key(append([]string{"calls", hospitalID, "list"}, filters...)...)
}

// CallDetail is a single call
func CallDetail(hospitalID, callID string) string {
	return key("calls", hospitalID, "detail", callID)
}

// CallAnalytics is the analytics root, optionally narrowed to a date range
func CallAnalytics(hospitalID string, rangeParts ...string) string {
	return key(append([]string{"calls", hospitalID, "analytics"}, rangeParts...)...)
}

// Assignments is the assignment list, optionally narrowed by filters
func Assignments(hospitalID string, filters ...string) string {
	return key(append([]string{"assignments", hospitalID}, filters...)...)
}

// AgentSession is one agent's session record
func AgentSession(hospitalID, agentID string) string {
	return key("agents", hospitalID, "session", agentID)
}

// Queues is the queue list, optionally narrowed further
func Queues(hospitalID string, parts ...string) string {
	return key(append([]string{"queues", hospitalID}, parts...)...)
}

// Matches reports whether key is prefix itself or lies below it
func Matches(prefix, k string) bool {
	if prefix == "" {
		return false
	}
	return k == prefix || strings.HasPrefix(k, prefix+"/")
}
