package instance

import (
	"os"
	"strings"
)

const envInstanceID = "LAUNCHKIT_INSTANCE_ID"

// ID identifies this process in locks and logs: the configured id, else the hostname.
func ID() string {
	if id := strings.TrimSpace(os.Getenv(envInstanceID)); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
