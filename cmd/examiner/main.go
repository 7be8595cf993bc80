package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examprep/internal/exam"
	"github.com/pavelanni/examprep/internal/handler"
	appI18n "github.com/pavelanni/examprep/internal/i18n"
	"github.com/pavelanni/examprep/internal/llm"
	"github.com/pavelanni/examprep/internal/llm/prompts"
	"github.com/pavelanni/examprep/internal/model"
	"github.com/pavelanni/examprep/internal/remote"
	"github.com/pavelanni/examprep/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "examiner",
		Short: "Practice exam engine with LLM-assisted grading",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), attemptsCmd(), pullCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `examiner --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the exam API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "examiner.db", "SQLite database path")
	f.StringSliceP("tests", "t", nil, "Test JSON files to import at startup (repeatable)")
	f.StringP("lang", "l", "en", "Default language for messages (en, ne)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.Duration("oracle-timeout", 60*time.Second, "Timeout for a single grading call")
	f.Int("oracle-concurrency", 0, "Maximum concurrent grading calls (0 = unlimited)")
	addRemoteFlags(f)
	f.Duration("sync-debounce", 2*time.Second, "Quiet period before answers are synced remotely")
	f.Duration("autosave-interval", 30*time.Second, "How often elapsed time is saved")
	f.String("admin-password", "", "Initial admin password (or set EXAMINER_ADMIN_PASSWORD)")
	addLogFlags(f)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import test JSON files into the question bank",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "examiner.db", "SQLite database path")
	addLogFlags(f)
	return cmd
}

func attemptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Export a student's attempt history as JSON",
		RunE:  runAttempts,
	}
	f := cmd.Flags()
	f.String("db", "examiner.db", "SQLite database path")
	f.String("student", "", "Student ID (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("student")

	return cmd
}

func pullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Copy a student's remote progress into the local database",
		RunE:  runPull,
	}
	f := cmd.Flags()
	f.String("db", "examiner.db", "SQLite database path")
	f.String("identity", "", "Remote identity (login name) to pull (required)")
	f.String("student", "", "Local student ID (defaults to the identity)")
	addRemoteFlags(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("identity")

	return cmd
}

type flagSet interface {
	String(name, value, usage string) *string
}

func addRemoteFlags(f flagSet) {
	f.String("remote-driver", remote.DriverNone, "Remote progress store (none, postgres, redis)")
	f.String("remote-dsn", "", "Remote store connection string (postgres:// or redis:// URL)")
}

func addLogFlags(f flagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMINER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examiner")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examiner")
	v.AddConfigPath("/etc/examiner")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// examConfig collects the engine settings from flags, env and config file.
func examConfig(v *viper.Viper) model.ExamConfig {
	return model.ExamConfig{
		Lang:             v.GetString("lang"),
		SyncDebounce:     v.GetDuration("sync-debounce"),
		AutosaveInterval: v.GetDuration("autosave-interval"),
		OracleTimeout:    v.GetDuration("oracle-timeout"),
		OracleLimit:      v.GetInt("oracle-concurrency"),
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if n, err := db.CleanupExpiredSessions(); err != nil {
		slog.Warn("failed to clean up expired auth sessions", "error", err)
	} else if n > 0 {
		slog.Info("removed expired auth sessions", "count", n)
	}

	if err := importFiles(ctx, db, v.GetStringSlice("tests")); err != nil {
		return fmt.Errorf("import tests: %w", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Create LLM client.
	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	llmClient, err := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		promptVariant,
	)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if err := llmClient.Ping(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	remoteStore, err := openRemote(ctx, v)
	if err != nil {
		return err
	}
	var remoteSync exam.RemoteStore
	if remoteStore != nil {
		defer remoteStore.Close()
		remoteSync = remoteStore
	}

	examCfg := examConfig(v)
	engine := exam.NewEngine(db, db, remoteSync, llmClient, examCfg)
	defer engine.Shutdown()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	handler.New(db, engine).Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"model", v.GetString("llm-model"),
			"llm_url", v.GetString("llm-url"),
			"lang", lang,
			"prompt_variant", promptVariant,
			"remote_driver", v.GetString("remote-driver"),
			"sync_debounce", examCfg.SyncDebounce,
			"oracle_timeout", examCfg.OracleTimeout,
			"oracle_concurrency", examCfg.OracleLimit,
		)
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

	slog.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return importFiles(cmd.Context(), db, args)
}

func runAttempts(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportAttempts(cmd.Context(), v.GetString("student"))
	if err != nil {
		return fmt.Errorf("export attempts: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writeExport(w, export)
}

func writeExport(w io.Writer, export model.AttemptExport) error {
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

func runPull(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	rs, err := openRemote(ctx, v)
	if err != nil {
		return err
	}
	if rs == nil {
		return errors.New("pull needs --remote-driver postgres or redis")
	}
	defer rs.Close()

	identity := v.GetString("identity")
	studentID := v.GetString("student")
	if studentID == "" {
		studentID = identity
	}
	n, err := pullSnapshots(ctx, db, rs, identity, studentID)
	if err != nil {
		return err
	}
	slog.Info("pulled remote progress", "identity", identity, "student", studentID, "copied", n)
	return nil
}

// pullSnapshots seeds the local store with every remote snapshot that has
// no local counterpart. Local snapshots always win.
func pullSnapshots(ctx context.Context, db *store.Store, rs remote.Store, identity, studentID string) (int, error) {
	snaps, err := rs.LoadAll(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("load remote snapshots: %w", err)
	}
	copied := 0
	for _, snap := range snaps {
		_, err := db.GetSnapshot(ctx, studentID, snap.TestID)
		if err == nil {
			slog.Info("local progress exists, skipping", "test", snap.TestID)
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return copied, err
		}
		snap.StudentID = studentID
		if err := db.PutSnapshot(ctx, snap); err != nil {
			return copied, fmt.Errorf("save snapshot for %s: %w", snap.TestID, err)
		}
		copied++
	}
	return copied, nil
}

func openRemote(ctx context.Context, v *viper.Viper) (remote.Store, error) {
	driver := strings.ToLower(v.GetString("remote-driver"))
	rs, err := remote.Open(ctx, driver, v.GetString("remote-dsn"))
	if err != nil {
		return nil, fmt.Errorf("open remote store: %w", err)
	}
	if rs != nil {
		slog.Info("remote progress sync enabled", "driver", driver)
	}
	return rs, nil
}

func importFiles(ctx context.Context, db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if _, err := db.ImportTest(ctx, filepath.Clean(path), data); err != nil {
			return err
		}
	}
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or EXAMINER_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
