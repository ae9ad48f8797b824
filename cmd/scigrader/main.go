package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scigrader/internal/guideline"
	"scigrader/internal/handler"
	appI18n "scigrader/internal/i18n"
	"scigrader/internal/llm"
	"scigrader/internal/model"
	"scigrader/internal/store"
	"scigrader/internal/workflow"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scigrader",
		Short: "Short-answer submission service with LLM O/X grading",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `scigrader --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the submission HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "scigrader.db", "Database DSN (sqlite path or postgres:// URL)")
	f.StringP("guidelines", "g", "guidelines/science_ko.json", "Path to grading guidelines JSON")
	f.IntP("num-questions", "n", 0, "Answers per submission (0 = number of guidelines)")
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty = api.openai.com)")
	f.String("llm-key", "", "API key for the grading model")
	f.String("llm-model", "gpt-5-mini", "Grading model name")
	f.StringP("lang", "l", "ko", "Message language (en, ko)")
	f.Duration("session-ttl", 30*time.Minute, "Idle lifetime of a workflow session")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export persisted submissions as CSV",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "scigrader.db", "Database DSN (sqlite path or postgres:// URL)")
	f.String("from", "", "Start date filter (YYYY-MM-DD)")
	f.String("to", "", "End date filter (YYYY-MM-DD, inclusive)")
	f.String("student", "", "Student id substring filter")
	f.String("model", "", "Model substring filter")
	f.Bool("graded-only", false, "Keep only rows with an O/X verdict")
	f.Bool("answers", false, "Include answer columns")
	f.Bool("guidelines", false, "Include guideline columns")
	f.String("tz", "Asia/Seoul", "Time zone for displayed timestamps")
	f.Int("limit", 0, "Maximum rows (0 = no limit)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
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

	v.SetEnvPrefix("SCIGRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("scigrader")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/scigrader")
	v.AddConfigPath("/etc/scigrader")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Load grading guidelines; they fix the question count.
	gl, err := guideline.LoadFile(v.GetString("guidelines"))
	if err != nil {
		return fmt.Errorf("load guidelines: %w", err)
	}
	numQuestions := v.GetInt("num-questions")
	if numQuestions == 0 {
		numQuestions = gl.Len()
	}
	if numQuestions != gl.Len() {
		return fmt.Errorf("configured for %d questions but guidelines file has %d entries",
			numQuestions, gl.Len())
	}

	// Open database.
	db, err := store.New(v.GetString("db"), numQuestions)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := recordGuidelineHash(db, gl); err != nil {
		return fmt.Errorf("record guideline hash: %w", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Create the grading client. A missing credential is an environment
	// error, reported before the first workflow can run.
	apiKey := v.GetString("llm-key")
	if apiKey == "" {
		return fmt.Errorf("grading API key is required: set --llm-key or SCIGRADER_LLM_KEY")
	}
	llmClient := llm.New(v.GetString("llm-url"), apiKey, v.GetString("llm-model"))
	pingCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := llmClient.Ping(pingCtx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "model", v.GetString("llm-model"))

	cfg := model.ServerConfig{
		NumQuestions:  numQuestions,
		Lang:          lang,
		SessionTTL:    v.GetDuration("session-ttl"),
		SecureCookies: v.GetBool("secure-cookies"),
	}

	registry := workflow.NewRegistry(cfg.SessionTTL)
	orch := workflow.NewOrchestrator(llmClient, gl)
	h := handler.New(db, registry, orch, gl.Questions(), cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"lang", lang,
		"num_questions", numQuestions,
		"session_ttl", cfg.SessionTTL,
	)
	return http.ListenAndServe(addr, r)
}

// recordGuidelineHash remembers which guidelines file the store was graded
// with, so a changed file is visible in the logs on the next run.
func recordGuidelineHash(db *store.Store, gl *guideline.Store) error {
	stored, err := db.GetMetadata("guideline_file_hash")
	if err != nil {
		return err
	}
	switch {
	case stored == "":
		return db.SetMetadata("guideline_file_hash", gl.Hash())
	case stored != gl.Hash():
		slog.Warn("guidelines file changed since earlier runs; older records keep the guidelines they were graded with")
		return db.SetMetadata("guideline_file_hash", gl.Hash())
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"), 0)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	loc, err := time.LoadLocation(v.GetString("tz"))
	if err != nil {
		return fmt.Errorf("load time zone: %w", err)
	}

	filter := store.Filter{
		StudentContains: v.GetString("student"),
		ModelContains:   v.GetString("model"),
		GradedOnly:      v.GetBool("graded-only"),
		Limit:           v.GetInt("limit"),
	}
	if from := v.GetString("from"); from != "" {
		t, err := time.ParseInLocation("2006-01-02", from, loc)
		if err != nil {
			return fmt.Errorf("parse --from: %w", err)
		}
		filter.Since = t
	}
	if to := v.GetString("to"); to != "" {
		t, err := time.ParseInLocation("2006-01-02", to, loc)
		if err != nil {
			return fmt.Errorf("parse --to: %w", err)
		}
		filter.Until = t.Add(24*time.Hour - time.Nanosecond)
	}

	records, err := db.ListRecords(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	opts := store.CSVOptions{
		Location:       loc,
		WithAnswers:    v.GetBool("answers"),
		WithGuidelines: v.GetBool("guidelines"),
	}
	if err := db.WriteCSV(w, records, opts); err != nil {
		return fmt.Errorf("write CSV: %w", err)
	}
	slog.Info("exported records", "count", len(records), "output", outPath)
	return nil
}
