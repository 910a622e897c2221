// Package misc holds small helpers shared by the login commands: OAuth state generation,
// pasted callback parsing and consistent credential log lines.
package misc

import (
	"fmt"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Separator used to visually group related log lines.
var credentialSeparator = strings.Repeat("-", 67)

// LogSavingSession emits a consistent message when a session is persisted.
// Paths are cleaned; other locations (database or bucket) are printed verbatim.
func LogSavingSession(backend, location string) {
	if location == "" {
		return
	}
	if backend == "file" {
		location = filepath.Clean(location)
	}
	fmt.Printf("Session saved to %s (%s)\n", location, backend)
}

// LogCredentialSeparator adds a visual separator to group auth processing logs.
func LogCredentialSeparator() {
	log.Debug(credentialSeparator)
}
