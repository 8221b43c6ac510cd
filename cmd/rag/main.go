package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flightrag/internal/config"
	"flightrag/internal/httpapi"
	"flightrag/internal/logging"
	"flightrag/internal/tui"
)

var (
	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "rag",
	Short:         "FlightAware question answering over a retrieval-augmented corpus",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Chunk, embed and index a JSON corpus, a PDF or a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat in the terminal",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check reachability of every configured provider",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

var (
	ingestIndex    string
	ingestRecreate bool
	userID         string
	useAgent       bool
	corpusPath     string
	serveAddr      string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to YAML config file (default ./config.yaml, then ~/.config/flightrag/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	ingestCmd.Flags().StringVar(&ingestIndex, "index", "", "Index name (default vector_store.index_name)")
	ingestCmd.Flags().BoolVar(&ingestRecreate, "recreate", false, "Drop the index before ingesting")

	for _, c := range []*cobra.Command{askCmd, chatCmd} {
		c.Flags().StringVarP(&userID, "user", "u", "cli", "Conversation user id")
		c.Flags().BoolVar(&useAgent, "agent", false, "Use agent mode")
	}
	for _, c := range []*cobra.Command{askCmd, chatCmd, serveCmd} {
		c.Flags().StringVar(&corpusPath, "corpus", "", "Ingest this corpus before starting")
	}
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default server.addr)")

	rootCmd.AddCommand(ingestCmd, askCmd, chatCmd, serveCmd, healthCmd)
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.AppConfig, error) {
	if cfgPath == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(cfgPath)
}

// setup loads configuration and assembles the application.
func setup(ctx context.Context, opts buildOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a, err := build(ctx, cfg, logger, opts)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	a.closers = append([]func(){func() { _ = logger.Sync() }}, a.closers...)
	if corpusPath != "" {
		if err := a.ingest(ctx, corpusPath, cfg.VectorStore.IndexName); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) ingest(ctx context.Context, path, index string) error {
	report, err := a.svc.Ingest(ctx, path, index)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Indexed %d documents, %d chunks, %d records upserted into %s.\n",
		report.TotalDocuments, report.TotalChunks, report.Upserted, index)
	for _, f := range report.FailedBatches {
		fmt.Fprintf(os.Stderr, "  batch %d (%d records) failed: %s\n", f.Batch, f.Records, f.Error)
	}
	for _, f := range report.FailedDeletes {
		fmt.Fprintf(os.Stderr, "  stale chunks of %s not removed: %s\n", f.URL, f.Error)
	}
	if len(report.FailedBatches) > 0 {
		return fmt.Errorf("%d of the ingestion batches failed", len(report.FailedBatches))
	}
	if len(report.FailedDeletes) > 0 {
		return fmt.Errorf("stale chunks of %d documents were not removed", len(report.FailedDeletes))
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	progress := &ingestProgress{}
	a, err := setup(cmd.Context(), buildOptions{recreate: ingestRecreate, progress: progress.Report})
	if err != nil {
		return err
	}
	defer a.Close()
	index := ingestIndex
	if index == "" {
		index = a.cfg.VectorStore.IndexName
	}
	err = a.ingest(cmd.Context(), args[0], index)
	progress.Finish()
	return err
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), buildOptions{generation: true})
	if err != nil {
		return err
	}
	defer a.Close()
	answer, err := a.svc.Ask(cmd.Context(), userID, strings.Join(args, " "), useAgent)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, answer.Text)
	if len(answer.SourceURLs) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for _, u := range answer.SourceURLs {
			fmt.Fprintln(out, "  "+u)
		}
	}
	fmt.Fprintf(out, "\n[mode %s, data source %s, %d chunks]\n", answer.Mode, answer.DataSource, answer.RetrievedCount)
	return nil
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd.Context(), buildOptions{generation: true})
	if err != nil {
		return err
	}
	defer a.Close()
	_, err = tea.NewProgram(tui.New(a.svc, userID, useAgent), tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx, buildOptions{generation: true})
	if err != nil {
		return err
	}
	defer a.Close()

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	srv := httpapi.NewServer(addr, httpapi.NewHandler(a.svc, a.logger.Named("http")))

	go a.memory.Run(ctx, time.Minute)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	a.logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd.Context(), buildOptions{generation: true})
	if err != nil {
		return err
	}
	defer a.Close()
	report := a.svc.Health(cmd.Context())
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Healthy() {
		return errors.New("one or more components are unavailable")
	}
	return nil
}
