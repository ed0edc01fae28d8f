package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leanflow/internal/app"
	"leanflow/internal/config"
	"leanflow/internal/db"
	"leanflow/internal/domain"
	"leanflow/internal/engine"
	"leanflow/internal/events"
	"leanflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "lf",
	Short: "LeanFlow CLI",
	Long: `LeanFlow tracks work items through a guarded lifecycle and records
file changes in an append-only mutation log.
- Workspace: the .leanflow directory holding the snapshot database.
- Items: work units moving backlog -> ready -> in_progress -> review ->
  approved -> integrated -> done, with blocked as a side track.
- Operations: batches of file intents committed atomically onto a branch;
  conflicts between pending operations are advisory and queryable.
- Metrics: cycle time, flow efficiency, throughput and WIP, refreshed on
  every completion.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("LEANFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(opCmd())
	rootCmd.AddCommand(fileCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(blockageCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Manage work items"}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemPrioritizedCmd())
	item.AddCommand(itemMoveCmd())
	item.AddCommand(itemUpdateCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var (
		title, description, assignee, deadline string
		priority, timeoutHours                 float64
		tags, deps                             []string
		criteria                               []bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineSave(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts := engine.ItemCreateOptions{
					Title:              title,
					Description:        description,
					Priority:           priority,
					Assignee:           assignee,
					Tags:               tags,
					CompletionCriteria: criteria,
					Dependencies:       deps,
					StateTimeoutHours:  timeoutHours,
					ActorID:            viper.GetString("actor-id"),
				}
				if deadline != "" {
					ts, err := time.Parse(time.RFC3339, deadline)
					if err != nil {
						return fmt.Errorf("invalid --deadline: %w", err)
					}
					opts.Deadline = &ts
				}
				created, err := e.CreateItem(opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "item title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().Float64Var(&priority, "priority", 1.0, "base priority")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags (repeatable)")
	cmd.Flags().BoolSliceVar(&criteria, "criteria", nil, "completion criteria flags")
	cmd.Flags().StringSliceVar(&deps, "dep", nil, "dependency item ids")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().Float64Var(&timeoutHours, "timeout-hours", 0, "state timeout override in hours")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				item, err := e.GetItem(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	return cmd
}

func itemListCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items := e.ListItems(domain.WorkState(state))
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "State", "Problem", "Priority", "Assignee"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Title, it.State, it.Problem, fmt.Sprintf("%.2f", it.Priority), it.Assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	return cmd
}

func itemPrioritizedCmd() *cobra.Command {
	var state string
	var limit int
	cmd := &cobra.Command{
		Use:   "prioritized",
		Short: "List items by priority score",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items := e.GetPrioritizedItems(domain.WorkState(state), limit)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Score", "ID", "Title", "State", "Priority"})
				for _, it := range items {
					tw.AppendRow(table.Row{fmt.Sprintf("%.3f", it.Score), it.ID, it.Title, it.State, fmt.Sprintf("%.2f", it.Priority)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state")
	cmd.Flags().IntVar(&limit, "limit", 10, "max items")
	return cmd
}

func itemMoveCmd() *cobra.Command {
	var problem string
	cmd := &cobra.Command{
		Use:   "move <id> <target-state>",
		Short: "Transition a work item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineSave(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ok, err := e.TransitionItem(args[0], domain.WorkState(args[1]), domain.ProblemState(problem), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				item, err := e.GetItem(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"transitioned": ok,
					"item":         item,
				})
			})
		},
	}
	cmd.Flags().StringVar(&problem, "problem", "", "problem state when moving to blocked")
	return cmd
}

func itemUpdateCmd() *cobra.Command {
	var (
		title, description, assignee, deadline, expertise string
		priority                                          float64
		approved, blocked, clearProblem, clearDeadline    bool
		tags, addDeps, resolve                            []string
		criteria                                          []bool
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineSave(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				opts := engine.ItemUpdateOptions{
					ID:            args[0],
					ClearProblem:  clearProblem,
					ClearDeadline: clearDeadline,
					ActorID:       viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("priority") {
					opts.Priority = &priority
				}
				if cmd.Flags().Changed("assignee") {
					opts.Assignee = &assignee
				}
				if cmd.Flags().Changed("approved") {
					opts.Approved = &approved
				}
				if cmd.Flags().Changed("blocked") {
					opts.Blocked = &blocked
				}
				if cmd.Flags().Changed("tag") {
					opts.Tags = tags
				}
				if cmd.Flags().Changed("criteria") {
					opts.CompletionCriteria = criteria
				}
				if cmd.Flags().Changed("expertise") {
					var v float64
					if _, err := fmt.Sscanf(expertise, "%f", &v); err != nil {
						return fmt.Errorf("invalid --expertise: %w", err)
					}
					opts.ExpertiseMatch = &v
				}
				if deadline != "" {
					ts, err := time.Parse(time.RFC3339, deadline)
					if err != nil {
						return fmt.Errorf("invalid --deadline: %w", err)
					}
					opts.Deadline = &ts
				}
				opts.AddDeps = addDeps
				for _, p := range resolve {
					opts.Resolve = append(opts.Resolve, domain.ProblemState(p))
				}
				item, err := e.UpdateItem(opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "item title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().Float64Var(&priority, "priority", 0, "base priority")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee")
	cmd.Flags().BoolVar(&approved, "approved", false, "set review approval")
	cmd.Flags().BoolVar(&blocked, "blocked", false, "set blocked flag")
	cmd.Flags().BoolVar(&clearProblem, "clear-problem", false, "clear the problem state")
	cmd.Flags().BoolVar(&clearDeadline, "clear-deadline", false, "remove the deadline")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags")
	cmd.Flags().BoolSliceVar(&criteria, "criteria", nil, "replace completion criteria")
	cmd.Flags().StringSliceVar(&addDeps, "add-dep", nil, "add dependency item ids")
	cmd.Flags().StringSliceVar(&resolve, "resolve", nil, "mark problem states resolved")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().StringVar(&expertise, "expertise", "", "expertise match in [0,1]")
	return cmd
}

func opCmd() *cobra.Command {
	op := &cobra.Command{Use: "op", Short: "Manage atomic operations"}
	op.AddCommand(opCreateCmd())
	op.AddCommand(opShowCmd())
	op.AddCommand(opListCmd())
	op.AddCommand(opExecCmd())
	op.AddCommand(opConflictsCmd())
	op.AddCommand(opBatchCmd())
	return op
}

// parseChangeSpec parses "path=localfile" for create/update flags.
func parseChangeSpec(spec string) (string, string, error) {
	parts := strings.SplitN(spec, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid change spec %q, want path=file", spec)
	}
	return parts[0], parts[1], nil
}

func opCreateCmd() *cobra.Command {
	var creates, updates, deletes, deps []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Stage an atomic operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			var changes []domain.FileChange
			for _, spec := range creates {
				path, file, err := parseChangeSpec(spec)
				if err != nil {
					return err
				}
				content, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				changes = append(changes, domain.FileChange{Type: domain.ChangeCreate, Path: path, Content: content})
			}
			for _, spec := range updates {
				path, file, err := parseChangeSpec(spec)
				if err != nil {
					return err
				}
				content, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				changes = append(changes, domain.FileChange{Type: domain.ChangeUpdate, Path: path, Content: content})
			}
			for _, path := range deletes {
				changes = append(changes, domain.FileChange{Type: domain.ChangeDelete, Path: path})
			}
			return withEngineSave(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				id, err := e.CreateOperation(changes, deps, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				created, err := e.Operation(id)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringSliceVar(&creates, "create", nil, "create change path=file (repeatable)")
	cmd.Flags().StringSliceVar(&updates, "update", nil, "update change path=file (repeatable)")
	cmd.Flags().StringSliceVar(&deletes, "delete", nil, "delete change path (repeatable)")
	cmd.Flags().StringSliceVar(&deps, "dep", nil, "dependency operation ids")
	return cmd
}

func opShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				op, err := e.Operation(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(op)
			})
		},
	}
	return cmd
}

func opListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ops := e.Operations()
				if viper.GetBool("json") {
					return printJSON(ops)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Paths", "Commit", "Error"})
				for _, op := range ops {
					tw.AppendRow(table.Row{op.ID, op.Status, strings.Join(op.Paths(), ","), op.CommitID, op.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func opExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <id>",
		Short: "Execute an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineSave(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ok, err := e.ExecuteOperation(args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				op, err := e.Operation(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"committed": ok,
					"operation": op,
				})
			})
		},
	}
	return cmd
}

func opConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts <id>",
		Short: "Detect conflicting operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				conflicts, err := e.DetectConflicts(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"op_id":     args[0],
					"conflicts": conflicts,
				})
			})
		},
	}
	return cmd
}

func opBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <id>...",
		Short: "Execute operations in dependency order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngineSave(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				results, err := e.BatchExecuteOperations(args, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(results)
			})
		},
	}
	return cmd
}

func fileCmd() *cobra.Command {
	file := &cobra.Command{Use: "file", Short: "Inspect versioned files"}
	file.AddCommand(fileLsCmd())
	file.AddCommand(fileCatCmd())
	return file
}

func fileLsCmd() *cobra.Command {
	var commitID string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List files at a commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				files, err := e.ListFiles(commitID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(files)
				}
				for _, f := range files {
					fmt.Println(f)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&commitID, "commit", "", "commit id (default head)")
	return cmd
}

func fileCatCmd() *cobra.Command {
	var commitID string
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file at a commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				content, found, err := e.FileContent(args[0], commitID)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("file %s not found", args[0])
				}
				_, err = os.Stdout.Write(content)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&commitID, "commit", "", "commit id (default head)")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				counts := map[string]int{}
				for _, item := range e.ListItems("") {
					counts[string(item.State)]++
				}
				out := map[string]any{
					"branch":      e.Log.BranchName(),
					"head_commit": e.Log.Head(),
					"item_counts": counts,
					"operations":  len(e.Operations()),
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Branch: %s\n", e.Log.BranchName())
				fmt.Printf("Head: %s\n", e.Log.Head())
				fmt.Println("Items:")
				for _, s := range domain.States() {
					if counts[string(s)] > 0 {
						fmt.Printf("  %s: %d\n", s, counts[string(s)])
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func metricsCmd() *cobra.Command {
	var trends bool
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show workflow metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if trends {
					return printJSONOrTable(map[string]any{
						"cycle_time_hours": e.CycleTimeTrend(),
						"flow_efficiency":  e.FlowEfficiencyTrend(),
					})
				}
				return printJSONOrTable(e.WorkflowMetrics())
			})
		},
	}
	cmd.Flags().BoolVar(&trends, "trends", false, "show recent trend samples")
	return cmd
}

func blockageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blockage",
		Short: "Show blockage analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.BlockageAnalysis())
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the audit log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entries := e.Events.Latest(n, events.Filters{
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
				})
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := app.Open(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer ws.Close()
			handler, err := server.New(server.Config{
				Engine:   ws.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: os.Getenv("LEANFLOW_JWT_SECRET")},
				Persist:  ws.Persist,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving LeanFlow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine)
}

func withEngineSave(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	ws, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ws.Close()
	if err := fn(ctx, ws.Engine); err != nil {
		return err
	}
	return ws.Persist(ctx)
}

func printJSONOrTable(v any) error {
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
