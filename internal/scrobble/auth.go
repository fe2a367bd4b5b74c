package scrobble

import "os/exec"

// OpenBrowser opens the URL with the desktop's default browser.
// Best effort; the caller prints the URL anyway.
func OpenBrowser(url string) error {
	return exec.Command("xdg-open", url).Start()
}
