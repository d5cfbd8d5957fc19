//go:build windows
// +build windows

package api

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
	"github.com/apex/log"
)

// createSocketListener creates a Windows named pipe listener
func createSocketListener(pipePath string) (net.Listener, error) {
	// Ensure the pipe path has the correct format
	if pipePath[0] != '\\' {
		pipePath = `\\.\pipe\` + pipePath
	}

	// Create a pipe configuration that allows everyone to write
	config := &winio.PipeConfig{
		// This SDDL string grants full access to Everyone (WD) and to the current owner (OW)
		SecurityDescriptor: "D:(A;;GA;;;WD)(A;;GA;;;OW)",
	}

	listener, err := winio.ListenPipe(pipePath, config)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on named pipe: %w", err)
	}

	log.Debugf("created named pipe at %s with write access for everyone", pipePath)
	return listener, nil
}

// cleanupSocket is a no-op on Windows as named pipes are automatically cleaned up
func cleanupSocket(pipePath string) {
	log.Debugf("named pipe %s will be automatically cleaned up", pipePath)
}
