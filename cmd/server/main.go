package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shinyes/sift/internal/app"
	"github.com/shinyes/sift/internal/config"
	"github.com/shinyes/sift/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sift",
		Short:        "Saved, composable task filters",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), false)
		},
	}
	root.AddCommand(newServeCmd(), newAdminCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var console bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), console)
		},
	}
	cmd.Flags().BoolVar(&console, "console", false, "enable runtime admin console")
	return cmd
}

func runServe(ctx context.Context, console bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	container, cleanup, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer cleanup() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	container.StartJanitor(ctx)

	logger.Info("sift backend listening",
		zap.String("addr", cfg.Addr),
		zap.String("db_driver", string(cfg.DBDriver)),
		zap.String("backup_storage", string(container.Config.Storage)),
	)
	if cfg.BootstrapToken != "" {
		logger.Info("bootstrap token enabled", zap.String("user", cfg.BootstrapUser))
	}
	if console {
		logger.Info("runtime admin console enabled")
		go runRuntimeConsole(os.Stdin, os.Stdout, container)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- container.Router.Listen(cfg.Addr)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return container.Router.ShutdownWithTimeout(10 * time.Second)
	}
}

// runRuntimeConsole reads admin commands from in while the server runs.
// Commands share the server's container.
func runRuntimeConsole(in io.Reader, out io.Writer, container *app.Container) {
	fmt.Fprintln(out, "Runtime Console: type a command, e.g. user create demo demo-pass")
	fmt.Fprintln(out, "Runtime Console: help lists commands, exit closes the console (the server keeps running)")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "sift> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Fprintf(out, "console read error: %v\n", err)
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parsed, err := parseCommandLine(line)
		if err != nil {
			fmt.Fprintf(out, "parse command error: %v\n", err)
			continue
		}
		if len(parsed) == 0 {
			continue
		}

		switch strings.ToLower(parsed[0]) {
		case "exit", "quit":
			fmt.Fprintln(out, "runtime console closed")
			return
		case "admin":
			parsed = parsed[1:]
		}
		if len(parsed) == 0 || strings.EqualFold(parsed[0], "help") {
			parsed = []string{"--help"}
		}

		cmd := newAdminCmdWith(func(context.Context) (*app.Container, func() error, error) {
			return container, func() error { return nil }, nil
		})
		cmd.SetArgs(parsed)
		cmd.SetOut(out)
		cmd.SetErr(out)
		if err := cmd.Execute(); err != nil {
			fmt.Fprintf(out, "command failed: %v\n", err)
		}
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTTL(raw string) (time.Duration, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return 0, errors.New("empty ttl")
	}

	if d, err := time.ParseDuration(normalized); err == nil {
		return d, nil
	}

	for _, suffix := range []string{"days", "day", "d"} {
		if !strings.HasSuffix(normalized, suffix) {
			continue
		}
		dayPart := strings.TrimSpace(strings.TrimSuffix(normalized, suffix))
		if dayPart == "" {
			return 0, errors.New("invalid day ttl")
		}
		days, err := strconv.ParseFloat(dayPart, 64)
		if err != nil {
			return 0, errors.New("invalid day ttl")
		}
		if days <= 0 {
			return 0, errors.New("day ttl must be greater than 0")
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}

	return 0, errors.New("unsupported ttl format")
}

func parseCommandLine(input string) ([]string, error) {
	var args []string
	var current strings.Builder
	var quote rune

	for _, r := range input {
		switch r {
		case '\'', '"':
			if quote == 0 {
				// Quotes only wrap at token start; cyk'slife stays literal.
				if current.Len() == 0 {
					quote = r
					continue
				}
				current.WriteRune(r)
				continue
			}
			if quote == r {
				quote = 0
				continue
			}
			current.WriteRune(r)
		case ' ', '\t':
			if quote != 0 {
				current.WriteRune(r)
				continue
			}
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if quote != 0 {
		return nil, errors.New("unterminated quote")
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args, nil
}
