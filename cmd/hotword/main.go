// Command hotword runs wake-word detection over WAV files, a microphone or
// network streams.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/hotword/internal/app"
	"github.com/MrWong99/hotword/internal/config"
	"github.com/MrWong99/hotword/internal/observe"
	"github.com/MrWong99/hotword/pkg/capture/portaudio"
	"github.com/MrWong99/hotword/pkg/provider/detector"
	"github.com/MrWong99/hotword/pkg/provider/detector/native"
	"github.com/MrWong99/hotword/pkg/resource"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const usage = `Usage: hotword <command> [flags]

Commands:
  file      detect keywords in a WAV file
  mic       detect keywords from a microphone until Ctrl+C or Enter
  serve     run the streaming detection server
  devices   list audio capture devices
  keywords  list the built-in keywords of a resource bundle
  version   print the engine library version

Run 'hotword <command> -h' for the flags of a command.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "file":
		return runFile(args, stdout, stderr)
	case "mic":
		return runMic(args, stdin, stdout, stderr)
	case "serve":
		return runServe(args, stderr)
	case "devices":
		return runDevices(args, stdout, stderr)
	case "keywords":
		return runKeywords(args, stdout, stderr)
	case "version":
		return runVersion(args, stdout, stderr)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(stderr, "hotword: unknown command %q\n\n%s", cmd, usage)
		return exitUsage
	}
}

// ── Commands ──────────────────────────────────────────────────────────────────

func runFile(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("file", stderr)
	ef := registerEngineFlags(fs)
	input := fs.String("input_audio_path", "", "WAV file to process (required)")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if *input == "" {
		fmt.Fprintln(stderr, "hotword file: --input_audio_path is required")
		fs.Usage()
		return exitUsage
	}
	if _, err := os.Stat(*input); err != nil {
		fmt.Fprintf(stderr, "hotword: audio file: %v\n", err)
		return exitError
	}

	cfg, err := ef.config()
	if err != nil {
		fmt.Fprintf(stderr, "hotword: %v\n", err)
		return exitError
	}
	level := setupLogger(cfg.LogLevel, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := newApp(ctx, cfg, level)
	if err != nil {
		slog.Error("failed to initialise engine", "err", err)
		return exitError
	}
	defer shutdown(application)

	if _, err := application.RunFile(ctx, *input, stdout); err != nil {
		slog.Error("detection failed", "path", *input, "err", err)
		return exitError
	}
	return exitOK
}

func runMic(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := newFlagSet("mic", stderr)
	ef := registerEngineFlags(fs)
	device := fs.Int("audio_device_index", portaudio.DefaultDevice, "capture device index (see 'hotword devices'); -1 for the default device")
	output := fs.String("output_path", "", "record the captured audio to this WAV file")
	if code, ok := parse(fs, args); !ok {
		return code
	}

	cfg, err := ef.config()
	if err != nil {
		fmt.Fprintf(stderr, "hotword: %v\n", err)
		return exitError
	}
	level := setupLogger(cfg.LogLevel, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// Enter stops listening as well.
	go func() {
		if _, err := bufio.NewReader(stdin).ReadString('\n'); err == nil {
			stop()
		}
	}()

	application, err := newApp(ctx, cfg, level)
	if err != nil {
		slog.Error("failed to initialise engine", "err", err)
		return exitError
	}
	defer shutdown(application)

	if err := application.RunMic(ctx, app.MicOptions{
		Device:     *device,
		OutputPath: *output,
		Out:        stdout,
	}); err != nil {
		slog.Error("listening failed", "err", err)
		return exitError
	}
	if *output != "" {
		slog.Info("recording saved", "path", *output)
	}
	return exitOK
}

func runServe(args []string, stderr io.Writer) int {
	fs := newFlagSet("serve", stderr)
	ef := registerEngineFlags(fs)
	listen := fs.String("listen_addr", "", "address to listen on (overrides server.listen_addr)")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	ef.listenAddr = *listen

	cfg, err := ef.config()
	if err != nil {
		fmt.Fprintf(stderr, "hotword: %v\n", err)
		return exitError
	}
	level := setupLogger(cfg.LogLevel, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "hotword"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitError
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := newApp(ctx, cfg, level)
	if err != nil {
		slog.Error("failed to initialise engine", "err", err)
		return exitError
	}
	defer shutdown(application)

	// ── Config watcher ────────────────────────────────────────────────────────
	var watcher *config.Watcher
	if ef.configPath != "" {
		current := cfg
		watcher, err = config.NewWatcher(ef.configPath, config.WithOnChange(func(_, next *config.Config, _ config.ConfigDiff) {
			effective, err := ef.overlay(next)
			if err != nil {
				slog.Error("ignoring reloaded config", "err", err)
				return
			}
			application.ApplyConfig(effective, config.Diff(current, effective))
			current = effective
		}))
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return exitError
		}

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					slog.Info("SIGHUP received, reloading config", "path", ef.configPath)
					watcher.Kick()
				}
			}
		}()
	}

	slog.Info("server starting, press Ctrl+C to shut down", "listen_addr", cfg.Server.ListenAddr)
	if err := application.Serve(ctx, watcher); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return exitError
	}
	slog.Info("goodbye")
	return exitOK
}

func runDevices(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("devices", stderr)
	if code, ok := parse(fs, args); !ok {
		return code
	}
	devices, err := portaudio.Devices()
	if err != nil {
		fmt.Fprintf(stderr, "hotword: %v\n", err)
		return exitError
	}
	for _, d := range devices {
		mark := " "
		if d.Default {
			mark = "*"
		}
		fmt.Fprintf(stdout, "%s index: %d, device name: %s (%s)\n", mark, d.Index, d.Name, d.HostAPI)
	}
	return exitOK
}

func runKeywords(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keywords", stderr)
	bundlePath := fs.String("resource_path", "", "resource bundle directory or .zip archive (required)")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if *bundlePath == "" {
		fmt.Fprintln(stderr, "hotword keywords: --resource_path is required")
		return exitUsage
	}

	b, err := resource.Open(*bundlePath)
	if err != nil {
		fmt.Fprintf(stderr, "hotword: %v\n", err)
		return exitError
	}
	defer b.Close()
	names, err := b.KeywordNames()
	if err != nil {
		fmt.Fprintf(stderr, "hotword: %v\n", err)
		return exitError
	}
	for _, n := range names {
		fmt.Fprintln(stdout, n)
	}
	return exitOK
}

func runVersion(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("version", stderr)
	libraryPath := fs.String("library_path", "", "engine shared library")
	bundlePath := fs.String("resource_path", "", "resource bundle to extract the library from")
	if code, ok := parse(fs, args); !ok {
		return code
	}

	lib := *libraryPath
	if lib == "" {
		if *bundlePath == "" {
			fmt.Fprintln(stderr, "hotword version: --library_path or --resource_path is required")
			return exitUsage
		}
		b, err := resource.Open(*bundlePath)
		if err != nil {
			fmt.Fprintf(stderr, "hotword: %v\n", err)
			return exitError
		}
		defer b.Close()
		if lib, err = b.ExtractLibrary(); err != nil {
			fmt.Fprintf(stderr, "hotword: %v\n", err)
			return exitError
		}
	}

	backend, err := native.New(lib)
	if err != nil {
		fmt.Fprintf(stderr, "hotword: %v\n", err)
		return exitError
	}
	defer backend.Close()
	fmt.Fprintf(stdout, "engine %s (%d Hz, %d samples per frame)\n",
		backend.Version(), backend.SampleRate(), backend.FrameLength())
	return exitOK
}

// ── Engine flags ──────────────────────────────────────────────────────────────

// engineFlags are the flags shared by every command that runs the engine.
// They override the values of the config file.
type engineFlags struct {
	configPath    string
	libraryPath   string
	modelPath     string
	resourcePath  string
	keywords      listFlag
	keywordPaths  listFlag
	sensitivities listFlag
	listenAddr    string
}

func registerEngineFlags(fs *flag.FlagSet) *engineFlags {
	ef := &engineFlags{}
	fs.StringVar(&ef.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&ef.libraryPath, "library_path", "", "engine shared library (default: from the resource bundle)")
	fs.StringVar(&ef.modelPath, "model_path", "", "model parameter file (default: from the resource bundle)")
	fs.StringVar(&ef.resourcePath, "resource_path", "", "resource bundle directory or .zip archive")
	fs.Var(&ef.keywords, "keywords", "comma-separated built-in keyword names")
	fs.Var(&ef.keywordPaths, "keyword_paths", "comma-separated keyword model files")
	fs.Var(&ef.sensitivities, "sensitivities", "comma-separated sensitivities in [0, 1], one per keyword (default 0.5)")
	return ef
}

// config loads the config file, if any, and applies the flags on top.
func (ef *engineFlags) config() (*config.Config, error) {
	cfg := &config.Config{}
	if ef.configPath != "" {
		loaded, err := config.Load(ef.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.ApplyDefaults(cfg)
	cfg, err := ef.overlay(cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.Keywords) == 0 {
		return nil, errors.New("no keywords: use --keywords, --keyword_paths or the keywords section of --config")
	}
	for i, kw := range cfg.Keywords {
		if kw.Path == "" {
			continue
		}
		if _, err := os.Stat(kw.Path); err != nil {
			return nil, fmt.Errorf("keywords[%d]: %w", i, err)
		}
	}
	return cfg, nil
}

// overlay returns a copy of cfg with the flags applied and validated. base
// is left untouched.
func (ef *engineFlags) overlay(base *config.Config) (*config.Config, error) {
	cfg := *base
	cfg.Keywords = append([]config.KeywordConfig(nil), base.Keywords...)

	if ef.libraryPath != "" {
		cfg.Engine.LibraryPath = ef.libraryPath
	}
	if ef.modelPath != "" {
		cfg.Engine.ModelPath = ef.modelPath
	}
	if ef.resourcePath != "" {
		cfg.Engine.ResourcePath = ef.resourcePath
	}
	if ef.listenAddr != "" {
		cfg.Server.ListenAddr = ef.listenAddr
	}

	if len(ef.keywords) > 0 || len(ef.keywordPaths) > 0 {
		cfg.Keywords = cfg.Keywords[:0]
		for _, n := range ef.keywords {
			cfg.Keywords = append(cfg.Keywords, config.KeywordConfig{Name: n})
		}
		for _, p := range ef.keywordPaths {
			cfg.Keywords = append(cfg.Keywords, config.KeywordConfig{Path: p})
		}
	}

	if len(ef.sensitivities) > 0 {
		if len(ef.sensitivities) != len(cfg.Keywords) {
			return nil, fmt.Errorf("number of keywords (%d) does not match number of sensitivities (%d)",
				len(cfg.Keywords), len(ef.sensitivities))
		}
		for i, s := range ef.sensitivities {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("sensitivity %q: %w", s, err)
			}
			cfg.Keywords[i].Sensitivity = &v
		}
	}

	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// listFlag collects comma-separated values across repeated flags.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			*l = append(*l, s)
		}
	}
	return nil
}

// ── Wiring ────────────────────────────────────────────────────────────────────

// newRegistry registers the backends that ship with hotword.
func newRegistry() *config.Registry {
	reg := config.NewRegistry()
	reg.RegisterBackend("native", func(e config.EngineConfig) (detector.Backend, error) {
		b, err := native.New(e.LibraryPath)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	return reg
}

func newApp(ctx context.Context, cfg *config.Config, level *slog.LevelVar) (*app.App, error) {
	return app.New(ctx, cfg,
		app.WithRegistry(newRegistry()),
		app.WithLevelVar(level),
	)
}

func shutdown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// setupLogger installs a text logger at level as the default and returns its
// level so it can be changed at runtime.
func setupLogger(level config.LogLevel, w io.Writer) *slog.LevelVar {
	lv := new(slog.LevelVar)
	switch level {
	case config.LogDebug:
		lv.Set(slog.LevelDebug)
	case config.LogWarn:
		lv.Set(slog.LevelWarn)
	case config.LogError:
		lv.Set(slog.LevelError)
	default:
		lv.Set(slog.LevelInfo)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})))
	return lv
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("hotword "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parse parses args into fs. When ok is false the command must return code.
func parse(fs *flag.FlagSet, args []string) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK, false
		}
		return exitUsage, false
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(fs.Output(), "unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return exitUsage, false
	}
	return exitOK, true
}
