package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"complyline/internal/config"
	"complyline/internal/db"
	"complyline/internal/derive"
	"complyline/internal/docusign"
	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/extract"
	"complyline/internal/migrate"
	"complyline/internal/observability/logger"
	"complyline/internal/recurrence"
	"complyline/internal/render"
	"complyline/internal/repo"
	"complyline/internal/server"
	"complyline/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "cly",
	Short: "Complyline CLI",
	Long: `Complyline keeps NGO compliance reporting on schedule.
It imports signed funding agreements from the e-signature provider, derives a
compliance form from each agreement's text, re-opens the form every review
cycle, and sends the filled report back to the donor for signature.
Key commands:
- agreements import: pull completed envelopes and register them for review
- sweep: create compliance forms for every agreement whose cycle is due
- forms fill: record the officer's answers for a due form
- dispatch: render filled forms to PDF and send them to donors
- serve: run the HTTP API (OpenAPI at /openapi.json, Swagger UI at /docs)`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		logger.Init(logger.Config{
			Env:         viper.GetString("log-env"),
			Level:       viper.GetString("log-level"),
			ServiceName: "cly",
		})
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("COMPLYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-env", "dev", "log format (dev, prod)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-env", rootCmd.PersistentFlags().Lookup("log-env"))
}

func registerCommands() {
	rootCmd.AddCommand(agreementsCmd())
	rootCmd.AddCommand(formsCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(leaderboardCmd())
	rootCmd.AddCommand(tokensCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func agreementsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "agreements", Short: "Manage monitored agreements"}
	cmd.AddCommand(agreementsListCmd())
	cmd.AddCommand(agreementsShowCmd())
	cmd.AddCommand(agreementsImportCmd())
	cmd.AddCommand(agreementsUpcomingCmd())
	return cmd
}

func agreementsListCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agreements under review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAgreements(ctx, accountID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Envelope", "Account", "Donor", "Every", "Next review", "Funding"})
				for _, a := range items {
					tw.AppendRow(table.Row{
						a.EnvelopeID, a.AccountID, a.DonorEmail,
						fmt.Sprintf("%dd", a.FrequencyDays),
						a.NextReviewAt, formatCents(a.FundingCents),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account filter")
	return cmd
}

func agreementsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <envelope-id>",
		Short: "Show one agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetAgreement(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(a)
			})
		},
	}
	return cmd
}

func agreementsImportCmd() *cobra.Command {
	var accountID, donorEmail, since string
	var freq int
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import completed envelopes as agreements",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ImportOptions{
				AccountID:     accountID,
				FrequencyDays: freq,
				DonorEmail:    donorEmail,
				ActorID:       viper.GetString("actor-id"),
			}
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("--since must be RFC3339: %w", err)
				}
				opts.Since = t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ImportAgreements(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrIndent(res)
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id (defaults to all linked accounts)")
	cmd.Flags().StringVar(&donorEmail, "donor-email", "", "override donor email for imported agreements")
	cmd.Flags().StringVar(&since, "since", "", "only envelopes completed after this RFC3339 time")
	cmd.Flags().IntVar(&freq, "frequency-days", 0, "review cycle length in days (default from config)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func agreementsUpcomingCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "upcoming <envelope-id>",
		Short: "Preview the next review dates for an agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetAgreement(ctx, args[0])
				if err != nil {
					return err
				}
				anchor, err := time.Parse(time.RFC3339, a.NextReviewAt)
				if err != nil {
					return err
				}
				dates, err := recurrence.Upcoming(anchor, time.Now(), a.FrequencyDays, count)
				if err != nil {
					return err
				}
				out := make([]string, 0, len(dates))
				for _, d := range dates {
					out = append(out, d.Format("2006-01-02"))
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				for _, d := range out {
					fmt.Println(d)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 5, "number of dates to preview")
	return cmd
}

func formsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forms",
		Short: "Manage compliance forms",
		Long:  "Forms are created by the sweep when an agreement's review cycle comes due. Fill one with the officer's answers, then dispatch sends it to the donor for signature.",
	}
	cmd.AddCommand(formsListCmd())
	cmd.AddCommand(formsShowCmd())
	cmd.AddCommand(formsFillCmd())
	return cmd
}

func formsListCmd() *cobra.Command {
	var envelopeID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List compliance forms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListForms(ctx, envelopeID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Envelope", "Due", "Status"})
				for _, f := range items {
					tw.AppendRow(table.Row{f.ID, f.EnvelopeID, f.DueDate, formStatus(f)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&envelopeID, "envelope", "", "agreement envelope filter")
	return cmd
}

func formsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a form with its schema and answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("form id must be a number")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				f, err := r.GetForm(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(f)
			})
		},
	}
	return cmd
}

func formsFillCmd() *cobra.Command {
	var answersJSON, answersFile string
	cmd := &cobra.Command{
		Use:   "fill <id>",
		Short: "Record answers for a due form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("form id must be a number")
			}
			raw := []byte(answersJSON)
			if answersFile != "" {
				raw, err = os.ReadFile(answersFile)
				if err != nil {
					return err
				}
			}
			if len(raw) == 0 {
				return fmt.Errorf("--answers-json or --answers-file required")
			}
			var answers map[string]any
			if err := json.Unmarshal(raw, &answers); err != nil {
				return fmt.Errorf("answers are not valid JSON: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.SubmitForm(ctx, engine.SubmitOptions{
					FormID:  id,
					Answers: answers,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrIndent(f)
			})
		},
	}
	cmd.Flags().StringVar(&answersJSON, "answers-json", "", "answers as a JSON object")
	cmd.Flags().StringVar(&answersFile, "answers-file", "", "path to a JSON file of answers")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Create forms for every agreement whose review is due",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				timeout := time.Duration(e.Config.Review.SweepTimeoutSeconds) * time.Second
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				res, err := e.Sweep(ctx)
				if err != nil {
					return err
				}
				return printJSONOrIndent(res)
			})
		},
	}
	return cmd
}

func dispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send filled forms to donors as signable PDF envelopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Dispatch(ctx)
				if err != nil {
					return err
				}
				return printJSONOrIndent(res)
			})
		},
	}
	return cmd
}

func leaderboardCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the public funding leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				entries, err := r.Leaderboard(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Account", "Country", "Funding", "Agreements", "Reports", "Score"})
				for i, e := range entries {
					tw.AppendRow(table.Row{
						i + 1, e.Name, e.Country, formatCents(e.FundingCents),
						e.Agreements, e.CompletedForms, e.Score,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries")
	return cmd
}

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tokens", Short: "Manage provider OAuth tokens"}
	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh every stored user's provider tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.RefreshAllTokens(ctx)
				if err != nil {
					return err
				}
				return printJSONOrIndent(map[string]any{"refreshed": n})
			})
		},
	}
	cmd.AddCommand(refresh)
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for machine callers",
		Long:  "API keys let schedulers call the sweep and dispatch endpoints without a user session. The key is printed once at creation; only its hash is stored.",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := "cly_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			key := domain.APIKey{
				ID:        uuid.NewString(),
				Name:      name,
				KeyHash:   repo.HashAPIKey(raw),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "name": key.Name, "key": raw})
				}
				fmt.Printf("API key %s created. Store it now; it will not be shown again:\n%s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Provider OAuth helpers"}
	loginURL := &cobra.Command{
		Use:   "login-url",
		Short: "Print the provider consent URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			oauth := docusign.NewOAuth(cfg.Docusign.AuthBaseURL, cfg.Docusign.IntegrationKey, cfg.Docusign.SecretKey, cfg.Docusign.RedirectURI)
			state := uuid.NewString()
			if viper.GetBool("json") {
				return printJSON(map[string]string{"url": oauth.AuthURL(state), "state": state})
			}
			fmt.Println(oauth.AuthURL(state))
			return nil
		},
	}
	cmd.AddCommand(loginURL)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Audit event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, accountID, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, accountID, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&accountID, "account", "", "account filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if addr == "" {
					addr = e.Config.Server.Addr
				}
				authCfg := server.AuthConfig{JWTSecret: e.Config.Server.JWTSecret}
				if authCfg.JWTSecret == "" {
					authCfg.JWTSecret = os.Getenv("COMPLYLINE_JWT_SECRET")
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("server.jwt_secret (or COMPLYLINE_JWT_SECRET) is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.L().Info("serving API", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Printf("Serving Complyline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	e.Tokens = docusign.NewOAuth(cfg.Docusign.AuthBaseURL, cfg.Docusign.IntegrationKey, cfg.Docusign.SecretKey, cfg.Docusign.RedirectURI)
	e.Envelopes = docusign.NewClient(cfg.Docusign.BaseURL, cfg.Docusign.AccountID)
	e.Extract = extract.Text
	e.Deriver = derive.New(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	if cfg.Renderer.URL != "" {
		e.Renderer = render.NewPDFClient(cfg.Renderer.URL)
	}
	if cfg.Storage.Bucket != "" {
		up, err := storage.NewUploader(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile)
		if err != nil {
			return fmt.Errorf("storage uploader: %w", err)
		}
		e.Uploader = up
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrIndent(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formStatus(f domain.ComplianceForm) string {
	switch {
	case f.SignedAt != nil:
		return "signed"
	case f.EmailSentAt != nil:
		return "dispatched"
	case f.FilledAt != nil:
		return "filled"
	default:
		return "due"
	}
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
