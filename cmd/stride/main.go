// Command stride is a terminal front end for the voice running coach.
//
// Press Enter to start or stop talking, type a line to send it as text.
// Lines starting with a slash are commands: /runs, /goals, /stats,
// /connect, /disconnect, /quit.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stride/core"
	"stride/devices/portaudio"
	"stride/factories"
	"stride/voicechat"
)

func main() {
	var settingsPath string
	flag.StringVar(&settingsPath, "settings", "", "path to settings JSON (default $SETTINGS_PATH or settings.json)")
	flag.Parse()

	if err := godotenv.Load(".env.local"); err != nil {
		core.GetLogger().With(map[string]interface{}{"error": err}).Debug("No .env.local file found or failed to load")
	}

	settings := loadSettings(settingsPath)
	logger := core.GetLogger()
	logger.SetLevel(core.ParseLevel(settings.LogLevel))

	if err := settings.Validate(); err != nil {
		logger.With(map[string]interface{}{"error": err}).Error("invalid settings")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, logger, os.Stdin, os.Stdout); err != nil {
		logger.With(map[string]interface{}{"error": err}).Error("stride exited")
		os.Exit(1)
	}
}

// loadSettings reads SETTINGS_JSON_B64, then the settings file, then applies
// environment overrides. Problems fall back to defaults with a warning.
func loadSettings(path string) factories.Settings {
	logger := core.GetLogger()
	settings := factories.DefaultSettings()

	if b64 := os.Getenv("SETTINGS_JSON_B64"); b64 != "" {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			logger.With(map[string]interface{}{"error": err}).Error("failed to decode SETTINGS_JSON_B64")
		} else if s, err := factories.SettingsFromJSON(data); err != nil {
			logger.With(map[string]interface{}{"error": err}).Error("failed to parse SETTINGS_JSON_B64")
		} else {
			settings = s
			logger.Info("loaded settings from SETTINGS_JSON_B64")
		}
	} else {
		explicit := path != ""
		if path == "" {
			path = os.Getenv("SETTINGS_PATH")
			explicit = path != ""
		}
		if path == "" {
			path = "settings.json"
		}
		s, err := factories.SettingsFromFile(path)
		switch {
		case err == nil:
			settings = s
			logger.With(map[string]interface{}{"path": path}).Info("loaded settings")
		case explicit || !errors.Is(err, os.ErrNotExist):
			logger.With(map[string]interface{}{"error": err}).Warn("using default settings")
		}
	}

	if err := settings.ApplyEnv(os.LookupEnv); err != nil {
		logger.With(map[string]interface{}{"error": err}).Warn("ignoring invalid environment override")
	}
	return settings
}

func run(ctx context.Context, settings factories.Settings, logger *core.Logger, in io.Reader, out io.Writer) error {
	system, err := portaudio.NewSystem(logger)
	if err != nil {
		return err
	}
	defer system.Close()

	speaker := system.Speaker()
	defer speaker.Close()

	view := newConsoleView(out)
	sess, err := factories.BuildSession(ctx, settings, voicechat.Devices{
		Microphone: system.Microphone(),
		Speaker:    speaker,
	}, logger, view.printRuns)
	if err != nil {
		return err
	}
	defer sess.Close()

	client := sess.Client
	client.Conversation().OnChange = func() { view.render(client.Snapshot()) }

	fmt.Fprintln(out, "Connecting... press Enter to talk, type to send text, /quit to exit.")
	if err := client.Connect(ctx); err != nil {
		logger.With(map[string]interface{}{"error": err}).Warn("initial connect failed, use /connect to retry")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Shutting down...")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, sess, view, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, sess *factories.Session, view *consoleView, line string) bool {
	client := sess.Client
	switch {
	case line == "":
		if client.Snapshot().Listening {
			client.StopListening()
		} else if err := client.StartListening(ctx); err != nil {
			sess.Logger.With(map[string]interface{}{"error": err}).Debug("start listening failed")
		}
	case line == "/quit":
		return true
	case line == "/connect":
		client.Connect(ctx)
	case line == "/disconnect":
		client.Disconnect()
	case line == "/runs":
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		list, err := sess.Runs.ListRuns(fetchCtx, sess.UserID, sess.RunsLimit)
		if err != nil {
			view.printf("! %v\n", err)
			return false
		}
		view.printRuns(list)
	case line == "/goals":
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		goals, err := sess.Runs.ListGoals(fetchCtx, sess.UserID)
		if err != nil {
			view.printf("! %v\n", err)
			return false
		}
		view.printGoals(goals)
	case line == "/stats":
		st := client.Stats()
		view.printf("session %s: %s, %d frames sent, %d chunks played, %d pending\n",
			client.SessionID(), client.State(), st.FramesSent, st.ChunksPlayed, st.ChunksPending)
	case strings.HasPrefix(line, "/"):
		view.printf("unknown command %s\n", line)
	default:
		if err := client.SendTextMessage(line); err != nil {
			view.printf("! %s\n", core.UserMessage(err))
		}
	}
	return false
}
