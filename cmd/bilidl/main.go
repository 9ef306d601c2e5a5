// Command bilidl downloads clips, bangumi episodes and course lessons from
// the platform, with QR or cookie-file login and ffmpeg remuxing.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"

	"bilidl/internal/bili"
	"bilidl/internal/config"
	"bilidl/internal/download"
	"bilidl/internal/log"
	"bilidl/internal/pipeline"
	"bilidl/internal/session"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("bilidl", flag.ExitOnError)
	var (
		configPath  = fs.String("config", "", "path to config file (YAML)")
		showVersion = fs.Bool("version", false, "print version and exit")

		rawURL      = fs.String("url", "", "video, bangumi or course URL (or bare BV/av/ep/ss id)")
		login       = fs.Bool("login", false, "log in interactively via QR code")
		cookiePath  = fs.String("cookie", "", "path to a cookie jar file to log in with")
		userDir     = fs.String("user-dir", "", "stored session directory to reuse")
		outputDir   = fs.String("output-dir", "", "directory for final files")
		quality     = fs.String("quality", "", "preferred quality (360p .. 8k)")
		parts       = fs.String("parts", "", "episode selection, e.g. 1-4,6")
		needVideo   = fs.Bool("need-video", true, "download the video stream")
		needAudio   = fs.Bool("need-audio", true, "download the audio stream")
		needSubs    = fs.Bool("need-subtitle", true, "download subtitles when available")
		needDanmaku = fs.Bool("need-danmaku", true, "download the danmaku XML")
		merge       = fs.Bool("merge", true, "remux video and audio with ffmpeg")
		concurrency = fs.Int("concurrency", 0, "parallel downloads")
		logLevel    = fs.String("log-level", "", "log level (debug, info, warn, error)")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Println("bilidl " + version)
		return 0
	}

	log.Configure(log.Config{Level: "info", Service: "bilidl"})
	logger := log.WithComponent("cli")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("cannot load configuration")
		return 1
	}

	// Flags set on the command line override file and environment.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.URL = *rawURL
		case "login":
			cfg.Login = *login
		case "cookie":
			cfg.CookiePath = *cookiePath
		case "user-dir":
			cfg.SessionDir = *userDir
		case "output-dir":
			cfg.OutputDir = *outputDir
		case "quality":
			cfg.Quality = *quality
		case "parts":
			cfg.Parts = *parts
		case "need-video":
			cfg.NeedVideo = *needVideo
		case "need-audio":
			cfg.NeedAudio = *needAudio
		case "need-subtitle":
			cfg.NeedSubtitle = *needSubs
		case "need-danmaku":
			cfg.NeedDanmaku = *needDanmaku
		case "merge":
			cfg.Merge = *merge
		case "concurrency":
			cfg.Concurrency = *concurrency
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return 1
	}
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "bilidl"})

	if cfg.URL == "" && !cfg.Login {
		fmt.Fprintln(os.Stderr, "nothing to do: pass --url to download or --login to log in")
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seedStateFile("state.json"); err != nil {
		logger.Warn().Err(err).Msg("cannot seed state file")
	}

	client, sessionID, err := buildClient(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("login failed")
		return 1
	}
	if sessionID != "" {
		ctx = log.ContextWithSessionID(ctx, sessionID)
	}
	if cfg.URL == "" {
		return 0 // login-only invocation
	}

	p := pipeline.New(client, cfg)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		p.SetProgressFunc(terminalProgress())
	}

	summary, err := p.Run(ctx, cfg.URL)
	if err != nil {
		logger.Error().Err(err).Str("url", cfg.URL).Msg("run failed")
		return 1
	}
	for _, perr := range summary.Errors {
		logger.Error().Err(perr).Msg("post-processing failed")
	}
	for _, out := range summary.Outputs {
		fmt.Println(out)
	}
	logger.Info().
		Str("title", summary.Title).
		Int("completed", summary.Completed).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed+summary.Errored).
		Msg("run finished")

	if !summary.Success() {
		return 1
	}
	return 0
}

// buildClient resolves the login source: an explicit cookie file wins over a
// stored session, which wins over interactive QR login. Without any of the
// three the client stays anonymous. The returned session id correlates log
// lines; it is empty for anonymous runs.
func buildClient(ctx context.Context, cfg *config.Config) (*bili.Client, string, error) {
	switch {
	case cfg.CookiePath != "":
		client := bili.New()
		if err := session.LoginByCookieFile(ctx, client, cfg.CookiePath); err != nil {
			return nil, "", err
		}
		id, err := persistSession(client)
		return client, id, err

	case cfg.SessionDir != "":
		store := session.NewStore(filepath.Dir(cfg.SessionDir))
		id := filepath.Base(cfg.SessionDir)
		if err := store.Load(id); err != nil {
			return nil, "", fmt.Errorf("load session %s: %w", id, err)
		}
		return store.Client(id), id, nil

	case cfg.Login:
		client := bili.New()
		if err := qrLogin(ctx, client); err != nil {
			return nil, "", err
		}
		id, err := persistSession(client)
		return client, id, err
	}
	return bili.New(), "", nil
}

func qrLogin(ctx context.Context, client *bili.Client) error {
	flow := session.NewQRLogin(client)
	data, err := flow.Generate(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Open this URL in the mobile app and confirm the login:")
	fmt.Println("  " + data.URL)
	if err := flow.Poll(ctx, data.QrcodeKey); err != nil {
		return err
	}
	fmt.Println("Logged in.")
	return nil
}

// persistSession saves the freshly obtained jar as a new stored session so
// later runs can pass --user-dir instead of logging in again.
func persistSession(client *bili.Client) (string, error) {
	store := session.NewStore("")
	id := store.CreateNew(client.Jar())
	if err := store.Save(id); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}
	fmt.Println("Session saved as sessions/" + id)
	return id, nil
}

// seedStateFile makes sure the task-state file exists as an empty JSON array.
func seedStateFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte("[]\n"), 0o600)
}

// terminalProgress writes an in-place progress line per task update.
func terminalProgress() download.ProgressFunc {
	return func(taskID string, downloaded, total int64) {
		if total <= 0 {
			return
		}
		fmt.Fprintf(os.Stderr, "\r%s %3d%% (%d/%d bytes)",
			taskID[:8], downloaded*100/total, downloaded, total)
		if downloaded >= total {
			fmt.Fprintln(os.Stderr)
		}
	}
}
