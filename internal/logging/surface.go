// ABOUTME: Endpoint classification for request logging.
// ABOUTME: Groups request paths into the API surfaces they belong to.

package logging

import "strings"

// SurfaceFromPath names the API surface that handles a given path.
func SurfaceFromPath(path string) string {
	switch {
	case path == "/healthz":
		return "health"
	case strings.HasPrefix(path, "/api/records"):
		return "records"
	case strings.HasPrefix(path, "/api/navigate"):
		return "navigate"
	case strings.HasPrefix(path, "/api/stats"):
		return "stats"
	case strings.HasPrefix(path, "/api/stream"):
		return "stream"
	case path == "/metrics":
		return "metrics"
	}
	return "unknown"
}
