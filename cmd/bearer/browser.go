package main

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"time"

	"github.com/andreweacott/bearer/pkg/logger"
	"github.com/briandowns/spinner"
)

// OpenBrowser opens the specified URL in the default web browser.
// It supports Linux, macOS, and Windows.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	// The browser keeps running in the background
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}

// terminalFlow reports the browser flow on the terminal: it prints the URL
// to visit, optionally opens it and spins until the callback arrives
type terminalFlow struct {
	out         io.Writer
	openBrowser bool
	open        func(string) error
	log         *logger.Logger

	spinner *spinner.Spinner
}

// Listening implements auth.FlowObserver
func (f *terminalFlow) Listening(callbackURL string) {
	fmt.Fprintf(f.out, "\nVisit to finish the configuration: %s\n\n", callbackURL)

	if f.openBrowser && f.open != nil {
		if err := f.open(callbackURL); err != nil {
			f.log.WithError(err).Warn("Could not open a browser, visit the URL manually")
		}
	}

	// No-op unless running in a terminal
	f.spinner = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(f.out))
	f.spinner.Suffix = " Waiting for the authorization server callback..."
	f.spinner.Start()
}

// Done implements auth.FlowObserver
func (f *terminalFlow) Done(err error) {
	if f.spinner != nil {
		f.spinner.Stop()
		f.spinner = nil
	}
}
