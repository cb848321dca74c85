package util

import (
	"os"
	"strings"
)

var secretEnvVars = []string{
	"VCENTER_PASSWORD",
	"SCW_SECRET_KEY",
	"SCW_ACCESS_KEY",
}

// ScrubSecrets masks credential material before it reaches a log file.
// Secrets are taken from the process environment plus any extra values
// the caller knows about (e.g. config fields).
func ScrubSecrets(s string, extra ...string) string {
	secrets := make([]string, 0, len(secretEnvVars)+len(extra))
	for _, name := range secretEnvVars {
		if v := os.Getenv(name); v != "" {
			secrets = append(secrets, v)
		}
	}
	secrets = append(secrets, extra...)

	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "***REDACTED***")
	}
	return s
}
