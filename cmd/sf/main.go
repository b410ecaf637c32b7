package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"surveyflow/internal/app"
	"surveyflow/internal/domain"
	"surveyflow/internal/engine"
	"surveyflow/internal/flow"
	"surveyflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Surveyflow CLI",
	Long: `Surveyflow authors surveys whose next question depends on the answer.
- Survey: ordered questions; draft while being edited, active while collecting answers, closed at the end.
- Determinant: what follows an answer, either "goto:<question id>" or "end".
- Flow: option determinants win over the question default; without either the next question by position follows.
- Activation validates the flow: no question may continue to itself, no loops, and some path must end the survey.
- Response: one respondent's walk through an active survey, one answer per step.
- Event log: every change, view with 'sf log tail'.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if fe, ok := flow.AsError(err); ok && len(fe.CyclePath) > 0 {
			fmt.Fprintln(os.Stderr, "cycle:", flow.FormatPath(fe.CyclePath))
		}
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SURVEYFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("db-driver", "", "database driver (sqlite or postgres), overrides surveyflow.yml")
	rootCmd.PersistentFlags().String("db-dsn", "", "database DSN, overrides surveyflow.yml")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")
	for _, name := range []string{"workspace", "json", "actor-id", "db-driver", "db-dsn", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(surveyCmd())
	rootCmd.AddCommand(questionCmd())
	rootCmd.AddCommand(optionCmd())
	rootCmd.AddCommand(flowCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(responseCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create surveyflow.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.InitWorkspace(viper.GetString("workspace"), force)
			if err != nil {
				return err
			}
			session, err := openSession(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
			if err != nil {
				return err
			}
			defer session.Close()
			fmt.Printf("Initialized %s (database: %s)\n", path, session.Config.Database.Driver)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing surveyflow.yml")
	return cmd
}

func surveyCmd() *cobra.Command {
	s := &cobra.Command{Use: "survey", Short: "Manage surveys"}
	s.AddCommand(surveyCreateCmd())
	s.AddCommand(surveyListCmd())
	s.AddCommand(surveyShowCmd())
	s.AddCommand(surveyDeleteCmd())
	s.AddCommand(surveyTransitionCmd("activate", "Validate the flow and open the survey", func(e engine.Engine) transitionFunc { return e.ActivateSurvey }))
	s.AddCommand(surveyTransitionCmd("deactivate", "Return an active survey to draft", func(e engine.Engine) transitionFunc { return e.DeactivateSurvey }))
	s.AddCommand(surveyTransitionCmd("close", "Close an active survey", func(e engine.Engine) transitionFunc { return e.CloseSurvey }))
	return s
}

func surveyCreateCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft survey",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSurvey(ctx, engine.SurveyCreateOptions{Title: title, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "survey title")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func surveyListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List surveys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSurveys(ctx, domain.SurveyStatus(status))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Title", "Status", "Version", "Updated")
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Title, s.Status, s.Version, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (draft, active, closed)")
	return cmd
}

func surveyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <survey-id>",
		Short: "Show a survey with its questions and determinants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSurvey(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Survey %d: %s (%s, version %d)\n", s.ID, s.Title, s.Status, s.Version)
				tw := newTable("Pos", "Question", "Type", "Text", "Option", "Next")
				for _, q := range s.Ordered() {
					tw.AppendRow(table.Row{q.Position, q.ID, q.Type, q.Text, "", determinantText(q.Next)})
					for _, o := range q.Options {
						tw.AppendRow(table.Row{"", "", "", "  " + o.Text, o.ID, determinantText(o.Next)})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
}

func surveyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <survey-id>",
		Short: "Delete a survey that is not active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteSurvey(ctx, id, actorID()); err != nil {
					return err
				}
				fmt.Printf("Deleted survey %d\n", id)
				return nil
			})
		},
	}
}

type transitionFunc func(ctx context.Context, surveyID, expectedVersion int64, actorID string) (domain.Survey, error)

func surveyTransitionCmd(use, short string, pick func(engine.Engine) transitionFunc) *cobra.Command {
	var expected int64
	cmd := &cobra.Command{
		Use:   use + " <survey-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := pick(e)(ctx, id, expected, actorID())
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the survey is at this version")
	return cmd
}

func questionCmd() *cobra.Command {
	q := &cobra.Command{Use: "question", Short: "Manage questions of draft surveys"}
	q.AddCommand(questionAddCmd())
	q.AddCommand(questionRemoveCmd())
	return q
}

func questionAddCmd() *cobra.Command {
	var opts engine.QuestionAddOptions
	var typ string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a question",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Type = domain.QuestionType(typ)
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.AddQuestion(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(q)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.SurveyID, "survey", 0, "survey id")
	cmd.Flags().StringVar(&typ, "type", string(domain.QuestionText), "text, single_choice, multiple_choice or rating")
	cmd.Flags().StringVar(&opts.Text, "text", "", "question text")
	cmd.Flags().StringVar(&opts.Constraint, "constraint", "", "answer constraint expression, e.g. len(answer) <= 200")
	cmd.Flags().IntVar(&opts.Position, "position", 0, "order index (default: append)")
	cmd.Flags().StringArrayVar(&opts.Options, "option", nil, "option text (repeatable)")
	cmd.Flags().Int64Var(&opts.ExpectedVersion, "expected-version", 0, "fail unless the survey is at this version")
	_ = cmd.MarkFlagRequired("survey")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func questionRemoveCmd() *cobra.Command {
	var expected int64
	cmd := &cobra.Command{
		Use:   "rm <question-id>",
		Short: "Remove a question no determinant points to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteQuestion(ctx, id, expected, actorID()); err != nil {
					return err
				}
				fmt.Printf("Removed question %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the survey is at this version")
	return cmd
}

func optionCmd() *cobra.Command {
	o := &cobra.Command{Use: "option", Short: "Manage answer options"}
	o.AddCommand(optionAddCmd())
	o.AddCommand(optionRemoveCmd())
	return o
}

func optionAddCmd() *cobra.Command {
	var opts engine.OptionAddOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an option to a choice or rating question",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.AddOption(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(o)
			})
		},
	}
	cmd.Flags().Int64Var(&opts.QuestionID, "question", 0, "question id")
	cmd.Flags().StringVar(&opts.Text, "text", "", "option text")
	cmd.Flags().IntVar(&opts.Position, "position", 0, "order index (default: append)")
	cmd.Flags().Int64Var(&opts.ExpectedVersion, "expected-version", 0, "fail unless the survey is at this version")
	_ = cmd.MarkFlagRequired("question")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func optionRemoveCmd() *cobra.Command {
	var expected int64
	cmd := &cobra.Command{
		Use:   "rm <option-id>",
		Short: "Remove an option",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteOption(ctx, id, expected, actorID()); err != nil {
					return err
				}
				fmt.Printf("Removed option %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the survey is at this version")
	return cmd
}

func flowCmd() *cobra.Command {
	f := &cobra.Command{
		Use:   "flow",
		Short: "Configure and check conditional flow",
		Long:  `Determinants are written as "goto:<question id>", "end", or "none" to clear.`,
	}
	f.AddCommand(flowSetCmd())
	f.AddCommand(flowValidateCmd())
	f.AddCommand(flowGraphCmd())
	return f
}

func flowSetCmd() *cobra.Command {
	var surveyID, questionID, expected int64
	var def string
	var optionFlags []string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set the default and option determinants of a question",
		Example: `  sf flow set --survey 1 --question 2 --option 4=end --option 5=goto:3
  sf flow set --survey 1 --question 3 --default end`,
		RunE: func(cmd *cobra.Command, args []string) error {
			update := engine.FlowUpdate{
				SurveyID:        surveyID,
				QuestionID:      questionID,
				ExpectedVersion: expected,
				ActorID:         actorID(),
			}
			if cmd.Flags().Changed("default") {
				d, err := parseDeterminant(def)
				if err != nil {
					return fmt.Errorf("--default: %w", err)
				}
				update.SetDefault = true
				update.Default = d
			}
			if len(optionFlags) > 0 {
				update.Options = make(map[int64]*domain.Determinant, len(optionFlags))
				for _, raw := range optionFlags {
					idText, value, ok := strings.Cut(raw, "=")
					if !ok {
						return fmt.Errorf("--option %q: want <option id>=<determinant>", raw)
					}
					id, err := parseID(idText)
					if err != nil {
						return fmt.Errorf("--option %q: %w", raw, err)
					}
					d, err := parseDeterminant(value)
					if err != nil {
						return fmt.Errorf("--option %q: %w", raw, err)
					}
					update.Options[id] = d
				}
			}
			if !update.SetDefault && len(update.Options) == 0 {
				return errors.New("nothing to set; pass --default or --option")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ConfigureFlow(ctx, update)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Survey %d now at version %d\n", res.SurveyID, res.Version)
				printReport(res.Report)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&surveyID, "survey", 0, "survey id")
	cmd.Flags().Int64Var(&questionID, "question", 0, "question id")
	cmd.Flags().StringVar(&def, "default", "", "question default determinant")
	cmd.Flags().StringArrayVar(&optionFlags, "option", nil, "option determinant as <option id>=<determinant> (repeatable)")
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "fail unless the survey is at this version")
	_ = cmd.MarkFlagRequired("survey")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func flowValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <survey-id>",
		Short: "Validate a survey flow without activating it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ValidateFlow(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printReport(res)
				return nil
			})
		},
	}
}

func flowGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <survey-id>",
		Short: "Show the derived flow graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.FlowGraph(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
}

func resolveCmd() *cobra.Command {
	var surveyID, questionID int64
	var options []int64
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show what follows an answer without recording it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				next, err := e.Resolve(ctx, surveyID, questionID, options)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"question_id": questionID, "next": next})
				}
				fmt.Println(next.String())
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&surveyID, "survey", 0, "survey id")
	cmd.Flags().Int64Var(&questionID, "question", 0, "question id")
	cmd.Flags().Int64SliceVar(&options, "option", nil, "selected option ids")
	_ = cmd.MarkFlagRequired("survey")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func responseCmd() *cobra.Command {
	r := &cobra.Command{Use: "response", Short: "Take surveys from the terminal"}
	r.AddCommand(responseStartCmd())
	r.AddCommand(responseAnswerCmd())
	r.AddCommand(responseShowCmd())
	return r
}

func responseStartCmd() *cobra.Command {
	var surveyID int64
	var respondent string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a response on an active survey",
		RunE: func(cmd *cobra.Command, args []string) error {
			if respondent == "" {
				respondent = actorID()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				resp, err := e.StartResponse(ctx, surveyID, respondent)
				if err != nil {
					return err
				}
				return printJSON(resp)
			})
		},
	}
	cmd.Flags().Int64Var(&surveyID, "survey", 0, "survey id")
	cmd.Flags().StringVar(&respondent, "respondent", "", "respondent id (default: actor id)")
	_ = cmd.MarkFlagRequired("survey")
	return cmd
}

func responseAnswerCmd() *cobra.Command {
	var opts engine.AnswerOptions
	cmd := &cobra.Command{
		Use:   "answer <response-id>",
		Short: "Answer the current question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ResponseID = args[0]
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SubmitAnswer(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.NextQuestion == nil {
					fmt.Println("Survey complete.")
					return nil
				}
				fmt.Printf("Next: question %d (%s) %s\n", res.NextQuestion.ID, res.NextQuestion.Type, res.NextQuestion.Text)
				for _, o := range res.NextQuestion.Options {
					fmt.Printf("  [%d] %s\n", o.ID, o.Text)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&opts.QuestionID, "question", 0, "question id being answered")
	cmd.Flags().Int64SliceVar(&opts.OptionIDs, "option", nil, "selected option ids")
	cmd.Flags().StringVar(&opts.Value, "value", "", "free-text answer")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func responseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <response-id>",
		Short: "Show a response and its answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				resp, err := e.GetResponse(ctx, args[0])
				if err != nil {
					return err
				}
				answers, err := e.ListAnswers(ctx, resp.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"response": resp, "answers": answers})
				}
				state := "in progress"
				if resp.Completed() {
					state = "completed"
				}
				fmt.Printf("Response %s by %s on survey %d: %s\n", resp.ID, resp.RespondentID, resp.SurveyID, state)
				tw := newTable("Question", "Options", "Value", "Next", "At")
				for _, a := range answers {
					tw.AppendRow(table.Row{a.QuestionID, joinIDs(a.OptionIDs), a.Value, a.Next.String(), a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yml>",
		Short: "Create a draft survey from a YAML survey file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ImportSurvey(ctx, data, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Imported survey %d: %s (%d questions)\n", res.Survey.ID, res.Survey.Title, len(res.Survey.Questions))
				printReport(res.Report)
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <survey-id>",
		Short: "Write a survey as a YAML survey file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				data, err := e.ExportSurvey(ctx, id)
				if err != nil {
					return err
				}
				if out == "" {
					_, err = os.Stdout.Write(data)
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func keyCmd() *cobra.Command {
	k := &cobra.Command{Use: "key", Short: "Manage API keys"}
	k.AddCommand(keyCreateCmd())
	k.AddCommand(keyListCmd())
	k.AddCommand(keyRevokeCmd())
	return k
}

func keyCreateCmd() *cobra.Command {
	var opts engine.APIKeyCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.CreatedBy = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plaintext, err := e.CreateAPIKey(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "roles": key.Roles, "key": plaintext})
				}
				fmt.Printf("API key %s for %s (%s)\n%s\n", key.ID, key.ActorID, strings.Join(key.Roles, ","), plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.ActorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&opts.Name, "name", "", "label")
	cmd.Flags().StringSliceVar(&opts.Roles, "role", nil, "roles (repeatable)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func keyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Actor", "Name", "Roles", "Created")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, strings.Join(k.Roles, ","), k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func keyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened: survey edits, flow changes, activations and answers.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var surveyID int64
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, n, surveyID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor", "Payload")
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&surveyID, "survey", 0, "survey filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			session, err := openSession(logger)
			if err != nil {
				return err
			}
			defer session.Close()
			cfg := session.Config
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			secret := os.Getenv("SURVEYFLOW_JWT_SECRET")
			if secret == "" && !cfg.Auth.AllowActorHeader {
				return fmt.Errorf("SURVEYFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:   session.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfigFrom(cfg, secret, logger),
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if d := server.NewWebhookDispatcher(session.Engine, logger); d != nil {
				go d.Run(ctx)
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving surveyflow API", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json", "docs", "/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openSession(logger *slog.Logger) (*app.Session, error) {
	return app.Open(app.Options{
		Workspace: viper.GetString("workspace"),
		Driver:    viper.GetString("db-driver"),
		DSN:       viper.GetString("db-dsn"),
		Logger:    logger,
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	level := slog.LevelWarn
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	session, err := openSession(logger)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(ctx, session.Engine)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// parseDeterminant reads "end", "goto:<id>" or "none"/"" (clear).
func parseDeterminant(s string) (*domain.Determinant, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case s == "" || s == "none":
		return nil, nil
	case s == string(domain.KindEnd):
		d := domain.EndSurvey()
		return &d, nil
	case strings.HasPrefix(s, string(domain.KindGoTo)+":"):
		id, err := strconv.ParseInt(strings.TrimPrefix(s, string(domain.KindGoTo)+":"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid question id in %q", s)
		}
		d, err := domain.GoToQuestion(id)
		if err != nil {
			return nil, err
		}
		return &d, nil
	default:
		return nil, fmt.Errorf("invalid determinant %q; use end, goto:<question id> or none", s)
	}
}

func determinantText(d *domain.Determinant) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func printReport(r flow.Result) {
	if r.Valid {
		fmt.Printf("Flow valid; ends after questions %s\n", joinIDs(r.Endpoints))
	} else {
		fmt.Printf("Flow invalid: %s: %s\n", r.Reason, r.Message)
		if len(r.CyclePath) > 0 {
			fmt.Printf("  cycle: %s\n", flow.FormatPath(r.CyclePath))
		}
	}
	for _, w := range r.Warnings {
		fmt.Printf("  warning %s: %s\n", w.Code, w.Message)
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
