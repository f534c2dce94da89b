package ipc

import (
	"os"
	"path/filepath"
	"strings"
)

// Command is an operator instruction delivered to a running bot.
type Command string

const (
	CmdStartRecording Command = "start-recording"  // arm the capture
	CmdStopRecording  Command = "stop-recording"   // flush the capture
	CmdToggle         Command = "toggle-recording" // flip the capture state
	CmdLeave          Command = "leave"            // leave the meeting and end the session
	CmdQuit           Command = "quit"             // shut the process down
)

// WriteCommand writes a command to ~/.cache/meetagent/cmd.txt.
func WriteCommand(cmd Command) error {
	dir, err := cacheDir(true)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "cmd.txt"), []byte(string(cmd)), 0644)
}

// ReadCommand reads and clears ~/.cache/meetagent/cmd.txt. Returns the empty
// command when nothing is pending; unknown commands are silently dropped.
func ReadCommand() (Command, error) {
	dir, err := cacheDir(false)
	if err != nil {
		return "", err
	}
	cmdPath := filepath.Join(dir, "cmd.txt")

	data, err := os.ReadFile(cmdPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil // no command pending
		}
		return "", err
	}

	// Clear immediately so a command never runs twice.
	if err := os.WriteFile(cmdPath, []byte(""), 0644); err != nil {
		return "", err
	}

	cmd := Command(strings.TrimSpace(string(data)))
	switch cmd {
	case CmdStartRecording, CmdStopRecording, CmdToggle, CmdLeave, CmdQuit:
		return cmd, nil
	default:
		return "", nil
	}
}

// CommandPath returns the command file location for watchers.
func CommandPath() string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "meetagent", "cmd.txt")
}
