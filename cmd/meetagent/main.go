package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/tiroq/meetagent/internal/autoupdate"
	"github.com/tiroq/meetagent/internal/bot"
	"github.com/tiroq/meetagent/internal/config"
	"github.com/tiroq/meetagent/internal/diaglog"
	"github.com/tiroq/meetagent/internal/ipc"
	"github.com/tiroq/meetagent/internal/monitor"
	"github.com/tiroq/meetagent/internal/pidfile"
	"github.com/tiroq/meetagent/internal/server"
	"github.com/tiroq/meetagent/internal/session"
	"github.com/tiroq/meetagent/internal/transcribe/whisper"
	"github.com/tiroq/meetagent/internal/validation"
)

const logPrefix = "[meetagent]"

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"

	outLog *log.Logger
	errLog *log.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "meetagent",
		Short:         "Unattended meeting bot: joins, watches, records and transcribes a meeting",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newStatusCmd(), newSendCmd(), newExportDiagCmd(), newUpdateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		meetingURL string
		configPath string
		listenAddr string
		headful    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join a meeting and run until it ends or the process is stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(meetingURL, configPath, listenAddr, headful)
		},
	}
	cmd.Flags().StringVar(&meetingURL, "url", "", "meeting URL (overrides config)")
	cmd.Flags().StringVar(&configPath, "config", "", "config file path (default ~/.config/meetagent/config.yaml)")
	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:8787", "control server address; empty disables the server")
	cmd.Flags().BoolVar(&headful, "headful", false, "run the browser with a visible window")
	return cmd
}

func runBot(meetingURL, configPath, listenAddr string, headful bool) error {
	if err := initLogging(); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	outLog.Println("===========================================")
	outLog.Printf("Starting MeetAgent v%s (PID %d)", Version, os.Getpid())
	outLog.Println("===========================================")

	pf, err := pidfile.New(pidfile.GetPIDFilePath("meetagent"))
	if err != nil {
		errLog.Printf("PID file: %v", err)
		return err
	}
	defer func() {
		if err := pf.Remove(); err != nil {
			errLog.Printf("Warning: failed to remove PID file: %v", err)
		}
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		errLog.Printf("Config: %v", err)
		return err
	}
	if meetingURL != "" {
		cfg.MeetingURL = meetingURL
	}
	if cfg.MeetingURL == "" {
		return fmt.Errorf("no meeting URL: pass --url or set meeting_url in the config")
	}
	if headful {
		cfg.Headless = false
	}

	preflight := validation.Merge(
		validation.CheckBrowser(cfg.BrowserBin),
		validation.CheckRecordingsDir(cfg.Recording.Dir),
		validation.CheckTranscription(cfg.Transcription.Mode, cfg.Transcription.Whisper.APIKey),
	)
	outLog.Printf("[STARTUP] Preflight: %s", preflight.Message)
	for _, w := range preflight.Warnings {
		errLog.Printf("[STARTUP] WARNING: %s", w)
	}
	if !preflight.OK {
		for _, issue := range preflight.Issues {
			errLog.Printf("[STARTUP] %s", issue)
		}
		for _, fix := range preflight.Fixes {
			errLog.Printf("[STARTUP] fix: %s", fix)
		}
		return fmt.Errorf("preflight failed: %s", preflight.Message)
	}

	diaglog.Version = Version
	bot.Version = Version
	diagLogger, diagErr := diaglog.New(debugLogPath())
	if diagErr != nil {
		errLog.Printf("Warning: diagnostic log unavailable: %v (continuing)", diagErr)
		diagLogger = diaglog.NewNoOp()
	}
	defer func() { _ = diagLogger.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *server.Server

	b, err := bot.New(botConfig(cfg), bot.Callbacks{
		OnStatusChange: func(s session.Status) {
			outLog.Printf("Status: %s", s)
			if srv != nil {
				srv.Publish("status", map[string]string{"status": string(s)})
			}
		},
		OnParticipants: func(names []string) {
			outLog.Printf("Participants (%d): %v", len(names), names)
			if srv != nil {
				srv.Publish("participants", names)
			}
		},
		OnTranscription: func(e session.TranscriptEntry) {
			if srv != nil {
				srv.Publish("transcription", e)
			}
		},
		OnError: func(err error) {
			errLog.Printf("Component error: %v", err)
			if srv != nil {
				srv.Publish("error", map[string]string{"error": err.Error()})
			}
		},
	})
	if err != nil {
		errLog.Printf("Bot init: %v", err)
		return err
	}
	b.SetLogger(diagLogger)

	if listenAddr != "" {
		srv = server.New(listenAddr, b, diagLogger)
		if err := srv.Start(ctx); err != nil {
			errLog.Printf("Control server: %v", err)
			return err
		}
		outLog.Printf("Control server listening on %s", listenAddr)
	}

	outLog.Printf("Joining %s ...", cfg.MeetingURL)
	if err := b.Start(ctx); err != nil {
		errLog.Printf("Start failed: %v", err)
		writeStatus(b)
		return err
	}
	outLog.Printf("Joined. Session: %s", b.SessionDir())
	writeStatus(b)

	go watchCommands(ctx, b, stop)

	// Publish the status file periodically and leave once the session
	// reaches a terminal state.
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			writeStatus(b)
			if b.Status().IsTerminal() {
				outLog.Println("Session ended")
				writeStatus(b)
				return shutdown(b, srv)
			}
		case <-ctx.Done():
			outLog.Println("===========================================")
			outLog.Println("[SHUTDOWN] Signal received, leaving the meeting")
			err := shutdown(b, srv)
			writeStatus(b)
			outLog.Println("[SHUTDOWN] Done")
			return err
		}
	}
}

// shutdown tears the bot and control server down in order.
func shutdown(b *bot.Bot, srv *server.Server) error {
	if err := b.Stop(); err != nil {
		errLog.Printf("Stop: %v", err)
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errLog.Printf("Server shutdown: %v", err)
		}
	}
	return nil
}

// botConfig maps the on-disk config onto the bot's runtime config.
func botConfig(cfg *config.BotConfig) bot.Config {
	return bot.Config{
		MeetingURL:        cfg.MeetingURL,
		BotName:           cfg.BotName,
		Headless:          cfg.Headless,
		BrowserBin:        cfg.BrowserBin,
		DisableMic:        cfg.DisableMic,
		DisableCamera:     cfg.DisableCamera,
		EnableAudio:       cfg.Recording.EnableAudio,
		EnableVideo:       cfg.Recording.EnableVideo,
		AutoRecord:        cfg.Recording.AutoRecord,
		RecordingsDir:     cfg.Recording.Dir,
		ConfigDir:         cfg.SelectorDir,
		TranscriptFormats: cfg.Recording.Formats,
		Transcription:     cfg.Transcription.Mode,
		Whisper: whisper.Config{
			BaseURL:        cfg.Transcription.Whisper.BaseURL,
			APIKey:         cfg.Transcription.Whisper.APIKey,
			Model:          cfg.Transcription.Whisper.Model,
			Language:       cfg.Transcription.Whisper.Language,
			Prompt:         cfg.Transcription.Whisper.Prompt,
			Temperature:    cfg.Transcription.Whisper.Temperature,
			TimeoutSeconds: cfg.Transcription.Whisper.TimeoutSeconds,
			Retries:        cfg.Transcription.Whisper.Retries,
		},
		KeepAudio:       cfg.Transcription.KeepAudio,
		CaptionInterval: time.Duration(cfg.Transcription.CaptionInterval) * time.Second,
		Monitor: monitor.Config{
			ParticipantInterval: time.Duration(cfg.Monitor.ParticipantIntervalSeconds) * time.Second,
			LivenessInterval:    time.Duration(cfg.Monitor.LivenessIntervalSeconds) * time.Second,
		},
	}
}

// writeStatus publishes the bot state for local tooling.
func writeStatus(b *bot.Bot) {
	snap := b.Session()
	status := ipc.StatusSnapshot{
		SessionID:         snap.ID,
		MeetingURL:        snap.URL,
		Status:            string(snap.Status),
		Recording:         b.IsRecording(),
		Participants:      snap.Participants,
		TranscriptEntries: len(snap.Transcript),
		PID:               os.Getpid(),
		Timestamp:         time.Now(),
	}
	if err := ipc.WriteStatus(&status); err != nil {
		errLog.Printf("Failed to write status: %v", err)
	}
}

// watchCommands monitors the command file for operator instructions. Uses
// fsnotify where available, with a 1s polling fallback.
func watchCommands(ctx context.Context, b *bot.Bot, quit context.CancelFunc) {
	cmdPath := ipc.CommandPath()
	cmdDir := filepath.Dir(cmdPath)
	_ = os.MkdirAll(cmdDir, 0755)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		errLog.Printf("fsnotify not available, falling back to polling: %v", err)
		watchCommandsWithPolling(ctx, cmdPath, b, quit)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(cmdDir); err != nil {
		errLog.Printf("Failed to watch command directory, falling back to polling: %v", err)
		watchCommandsWithPolling(ctx, cmdPath, b, quit)
		return
	}
	outLog.Println("Command watcher started (using fsnotify)")

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				watchCommandsWithPolling(ctx, cmdPath, b, quit)
				return
			}
			if event.Name == cmdPath && (event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create) {
				// Small delay so the write is complete before reading.
				time.Sleep(50 * time.Millisecond)
				cmd, err := ipc.ReadCommand()
				if err != nil || cmd == "" {
					continue
				}
				handleCommand(cmd, b, quit)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				watchCommandsWithPolling(ctx, cmdPath, b, quit)
				return
			}
			errLog.Printf("File watcher error: %v", err)
		}
	}
}

func watchCommandsWithPolling(ctx context.Context, cmdPath string, b *bot.Bot, quit context.CancelFunc) {
	outLog.Println("Command watcher started (polling, 1s interval)")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastCheck := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(cmdPath)
			if err != nil || !info.ModTime().After(lastCheck) {
				continue
			}
			time.Sleep(50 * time.Millisecond)
			cmd, err := ipc.ReadCommand()
			lastCheck = time.Now()
			if err != nil || cmd == "" {
				continue
			}
			handleCommand(cmd, b, quit)
		}
	}
}

func handleCommand(cmd ipc.Command, b *bot.Bot, quit context.CancelFunc) {
	outLog.Printf("Received command: %s", cmd)
	switch cmd {
	case ipc.CmdStartRecording:
		if err := b.StartRecording(); err != nil {
			errLog.Printf("Start recording: %v", err)
		}
	case ipc.CmdStopRecording:
		if _, err := b.StopRecording(); err != nil {
			errLog.Printf("Stop recording: %v", err)
		}
	case ipc.CmdToggle:
		on, err := b.ToggleRecording()
		if err != nil {
			errLog.Printf("Toggle recording: %v", err)
		} else {
			outLog.Printf("Recording: %v", on)
		}
	case ipc.CmdLeave, ipc.CmdQuit:
		quit()
	}
	writeStatus(b)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ipc.ReadStatus()
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No bot is running (no status file)")
					return nil
				}
				return err
			}
			fmt.Printf("Session:      %s\n", status.SessionID)
			fmt.Printf("Meeting:      %s\n", status.MeetingURL)
			fmt.Printf("Status:       %s\n", status.Status)
			fmt.Printf("Recording:    %v\n", status.Recording)
			fmt.Printf("Participants: %d %v\n", len(status.Participants), status.Participants)
			fmt.Printf("Transcript:   %d entries\n", status.TranscriptEntries)
			fmt.Printf("Updated:      %s\n", status.Timestamp.Format(time.RFC3339))
			return nil
		},
	}
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "send {start-recording|stop-recording|toggle-recording|leave|quit}",
		Short:     "Send a command to the running bot",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"start-recording", "stop-recording", "toggle-recording", "leave", "quit"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ipc.WriteCommand(ipc.Command(args[0]))
		},
	}
}

func newUpdateCmd() *cobra.Command {
	var (
		channel string
		install bool
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for a newer release and optionally install it",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			checker := autoupdate.NewUpdateChecker("tiroq", "meetagent", Version, filepath.Dir(exe))
			checker.SetChannel(autoupdate.ReleaseChannel(channel))

			available, release, err := checker.IsUpdateAvailable()
			if err != nil {
				return err
			}
			if !available {
				fmt.Printf("Already up to date (v%s)\n", Version)
				return nil
			}
			fmt.Printf("Update available: %s (current v%s)\n", release.TagName, Version)
			if !install {
				fmt.Println("Run with --install to download and install it")
				return nil
			}
			if err := checker.DownloadAndInstall(release); err != nil {
				return err
			}
			fmt.Printf("Installed %s\n", release.TagName)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "stable", "release channel: stable, prerelease or dev")
	cmd.Flags().BoolVar(&install, "install", false, "install the update instead of only checking")
	return cmd
}

func newExportDiagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-diag",
		Short: "Bundle the diagnostic log for a bug report",
		RunE: func(cmd *cobra.Command, args []string) error {
			diaglog.Version = Version
			path, n, err := diaglog.Export(debugLogPath(), ".")
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("no diagnostic log found; run with MEETAGENT_DEBUG=true to enable logging")
				}
				return err
			}
			fmt.Printf("Wrote: %s (%d lines)\n", path, n)
			return nil
		},
	}
}

func debugLogPath() string {
	if p := os.Getenv("MEETAGENT_LOG_PATH"); p != "" {
		return p
	}
	return "/tmp/meetagent-debug.log"
}

// initLogging sets up daemon log files with size-based rotation.
func initLogging() error {
	outLogPath := filepath.Join("/tmp", "meetagent.out.log")
	errLogPath := filepath.Join("/tmp", "meetagent.err.log")

	if err := rotateLogIfNeeded(outLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate out log: %v\n", err)
	}
	if err := rotateLogIfNeeded(errLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate err log: %v\n", err)
	}

	outFile, err := os.OpenFile(outLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	errFile, err := os.OpenFile(errLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	outLog = log.New(outFile, logPrefix+" ", log.LstdFlags)
	errLog = log.New(errFile, logPrefix+" ERROR: ", log.LstdFlags)
	return nil
}

// rotateLogIfNeeded rotates a log file once it exceeds maxSize bytes.
func rotateLogIfNeeded(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	oldPath := logPath + ".old"
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old log: %w", err)
	}
	return os.Rename(logPath, oldPath)
}
