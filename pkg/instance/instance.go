package instance

import "os"

// GetID identifies this process in logs and lock ownership. DYNO is set on Heroku;
// ECHOPAY_INSTANCE_ID wins when both are present.
func GetID() string {
	for _, key := range []string{"ECHOPAY_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
