package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"simpleflow-sandbox/internal/client"
)

var (
	serverURL string
	inline    string
	debounce  time.Duration
)

func main() {
	root := &cobra.Command{
		Use:          "sfrun",
		Short:        "Run SimpleFlow programs on a sandbox server",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("SFRUN_SERVER", "http://localhost:8080"), "Server URL")

	runCmd := &cobra.Command{
		Use:   "run [file|-]",
		Short: "Run a program once",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runOnce,
	}
	runCmd.Flags().StringVarP(&inline, "eval", "e", "", "Program source given inline")
	root.AddCommand(runCmd)

	watchCmd := &cobra.Command{
		Use:   "watch [file]",
		Short: "Re-run a program every time it is saved",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
	watchCmd.Flags().DurationVar(&debounce, "debounce", 150*time.Millisecond, "Quiet period after a save before running")
	root.AddCommand(watchCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(serverURL, 70*time.Second)
}

func runOnce(cmd *cobra.Command, args []string) error {
	code, err := readSource(args)
	if err != nil {
		return err
	}

	res, err := newClient().Run(cmd.Context(), code)
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	if res.Failed() {
		os.Exit(1)
	}
	return nil
}

func readSource(args []string) (string, error) {
	switch {
	case inline != "":
		if len(args) > 0 {
			return "", errors.New("give either --eval or a file, not both")
		}
		return inline, nil
	case len(args) == 0 || args[0] == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", fmt.Errorf("reading file: %w", err)
		}
		return string(data), nil
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file on save; watching the directory
	// survives the rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := client.NewSession(newClient())
	out := cmd.OutOrStdout()
	trigger := func() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "read: %v\n", err)
			return
		}
		go func() {
			res, err := session.Submit(ctx, string(data))
			switch {
			case errors.Is(err, client.ErrSuperseded), errors.Is(err, context.Canceled):
			case err != nil:
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			default:
				fmt.Fprintf(out, "--- %s ---\n", time.Now().Format(time.TimeOnly))
				printResult(out, res)
			}
		}()
	}

	fmt.Fprintf(out, "watching %s (ctrl-c to stop)\n", path)
	trigger()

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			session.Cancel()
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, trigger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watch error: %v\n", err)
		}
	}
}

func runHealth(cmd *cobra.Command, _ []string) error {
	doc, err := newClient().Health(cmd.Context())
	if doc != nil {
		formatted, _ := json.MarshalIndent(doc, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
	}
	return err
}

func printResult(w io.Writer, res *client.Result) {
	if res.HasOutput && res.Output != "" {
		fmt.Fprintln(w, res.Output)
	}
	if res.Error != "" {
		fmt.Fprintf(w, "error: %s\n", res.Error)
	}
	fmt.Fprintf(w, "(%dms)\n", res.Elapsed.Milliseconds())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
