package instance

import "os"

// GetID names this process in lock tokens and logs. Falls back to the hostname.
func GetID() string {
	if id := os.Getenv("CAMPUSMART_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "instance-0"
}
