// describe: one-shot image description from the command line.
//
//	describe -provider ollama -model llava photo.jpg
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-lens/internal/config"
	"github.com/teslashibe/go-lens/internal/log"
	"github.com/teslashibe/go-lens/pkg/describe"
	"github.com/teslashibe/go-lens/pkg/frame"
	"github.com/teslashibe/go-lens/pkg/inference"
)

var (
	configPath = flag.String("config", os.Getenv("LENS_CONFIG"), "Path to YAML config file")
	provider   = flag.String("provider", "", "Provider: gemini, openai, ollama, mock")
	model      = flag.String("model", "", "Vision model (overrides config)")
	prompt     = flag.String("prompt", "", "Instruction sent with the image")
	asJSON     = flag.Bool("json", false, "Print the final state as JSON")
	verbose    = flag.Bool("v", false, "Log at the configured level instead of warn")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <image>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(withProvider(os.Getenv, *provider))
	if *model != "" {
		cfg.Provider.Model = *model
	}
	if *prompt != "" {
		cfg.Prompt = *prompt
	}
	cfg.Camera.Source = config.SourceNone
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}

	level := "warn"
	if *verbose {
		level = cfg.LogLevel
	}
	log.Init(level, cfg.LogFormat)

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f, err := frame.Decode(data, frame.OriginFile)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	p, err := inference.New(cfg.Provider.Name, cfg.ProviderOptions()...)
	if err != nil {
		return err
	}

	source := frame.NewSource()
	source.Push(f)

	opts := []describe.Option{
		describe.WithMaxTokens(cfg.Provider.MaxTokens),
		describe.WithTemperature(cfg.Provider.Temperature),
	}
	if cfg.Prompt != "" {
		opts = append(opts, describe.WithPrompt(cfg.Prompt))
	}
	if cfg.Provider.Model != "" {
		opts = append(opts, describe.WithModel(cfg.Provider.Model))
	}
	ctrl := describe.New(source, p, opts...)
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := ctrl.Trigger(); err != nil {
		return err
	}
	st, err := ctrl.Wait(ctx)
	if err != nil {
		return err
	}

	return report(os.Stdout, st, *asJSON)
}

// withProvider makes name take the place of LENS_PROVIDER, so credentials
// are looked up for the provider that will actually be used.
func withProvider(getenv func(string) string, name string) func(string) string {
	if name == "" {
		return getenv
	}
	return func(key string) string {
		if key == "LENS_PROVIDER" {
			return name
		}
		return getenv(key)
	}
}

// report prints the settled state. An Error state is returned as an error
// in both output modes.
func report(w io.Writer, st describe.State, asJSON bool) error {
	if asJSON {
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
	} else if st.Phase == describe.PhaseSuccess {
		fmt.Fprintln(w, st.Text)
	}

	if st.Phase == describe.PhaseError {
		return fmt.Errorf("describe failed: %s", st.Message)
	}
	return nil
}
