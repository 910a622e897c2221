// Package browser opens the authorization URL in the user's default browser and,
// when that is impossible, hands the URL over through the clipboard.
package browser

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/atotto/clipboard"
	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

// linuxBrowsers are tried in order when open-golang fails on Linux.
var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// Opener launches URLs. It is replaced in tests.
var Opener = open.Run

// OpenURL opens url in the default web browser, first through open-golang and then
// through a platform-specific command.
func OpenURL(url string) error {
	err := Opener(url)
	if err == nil {
		log.Debug("opened URL using open-golang")
		return nil
	}
	log.Debugf("open-golang failed: %v, trying platform-specific commands", err)
	return openURLPlatformSpecific(url)
}

func openURLPlatformSpecific(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, name := range linuxBrowsers {
			if _, err := exec.LookPath(name); err == nil {
				cmd = exec.Command(name, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("browser: no suitable browser found")
		}
	default:
		return fmt.Errorf("browser: unsupported operating system %s", runtime.GOOS)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("browser: failed to start %s: %w", cmd.Path, err)
	}
	return nil
}

// IsAvailable reports whether a browser can plausibly be launched: a desktop session
// exists and an opener command is installed. It never opens a window.
func IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin":
		_, err := exec.LookPath("open")
		return err == nil
	case "windows":
		_, err := exec.LookPath("rundll32")
		return err == nil
	case "linux":
		if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
			return false
		}
		for _, name := range linuxBrowsers {
			if _, err := exec.LookPath(name); err == nil {
				return true
			}
		}
	}
	return false
}

// CopyToClipboard places text on the system clipboard. It returns false when no
// clipboard is available, as on headless machines.
func CopyToClipboard(text string) bool {
	if clipboard.Unsupported {
		return false
	}
	if err := clipboard.WriteAll(text); err != nil {
		log.Debugf("clipboard copy failed: %v", err)
		return false
	}
	return true
}

// Present opens url in a browser unless noBrowser is set or no browser is available.
// When the browser is not used, the URL is printed through printf and copied to the clipboard.
// It reports whether a browser was launched.
func Present(url string, noBrowser bool, printf func(format string, args ...any)) bool {
	if !noBrowser && IsAvailable() {
		err := OpenURL(url)
		if err == nil {
			return true
		}
		log.Warnf("failed to open browser automatically: %v", err)
	}
	printf("Visit the following URL to continue authentication:\n%s\n", url)
	if CopyToClipboard(url) {
		printf("(The URL has been copied to your clipboard.)\n")
	}
	return false
}
