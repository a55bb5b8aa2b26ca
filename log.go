package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
)

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, "voicebooth").CacheDir()
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	return filepath.Join(dir, "voicebooth.log"), nil
}

func setupLog() (func() error, error) {
	// Log to file, never to the terminal the session is drawn on.
	log.SetOutput(io.Discard)

	logFile, err := getLogFilePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
		// log disabled
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		// log disabled
		return func() error { return nil }, nil
	}
	log.SetOutput(f)
	log.SetLevel(log.InfoLevel)
	log.SetReportTimestamp(true)
	return f.Close, nil
}
