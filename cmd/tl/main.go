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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskline/internal/api"
	"taskline/internal/cache"
	"taskline/internal/config"
	"taskline/internal/connectivity"
	"taskline/internal/domain"
	"taskline/internal/gateway"
	"taskline/internal/migrate"
	"taskline/internal/server"
	"taskline/internal/syncer"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Taskline CLI",
	Long: `Taskline is an offline-first client for a tasks REST API.
Mutations made while offline are written to a local cache and queued;
when connectivity returns the queue is replayed against the API in
order. 'tl sync' inspects and drives that replay.`,
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
	viper.SetEnvPrefix("TASKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides config)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("offline", false, "force offline mode")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("api-url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("offline", rootCmd.PersistentFlags().Lookup("offline"))
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
}

// env bundles the wired collaborators for one command invocation.
type env struct {
	Gateway *gateway.Gateway
	Syncer  *syncer.Syncer
	Monitor *connectivity.Monitor
	Store   *cache.Store
}

func withEnv(ctx context.Context, fn func(context.Context, env) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	baseURL := viper.GetString("api-url")
	if baseURL == "" {
		baseURL = cfg.API.BaseURL
	}
	conn, err := cache.Open(cache.DBConfig{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	store := cache.NewStore(conn)
	client := api.New(baseURL)
	client.BearerToken = cfg.API.Token

	interval := time.Duration(cfg.Probe.IntervalSeconds) * time.Second
	monitor := connectivity.New(client.Health, interval)
	if !viper.GetBool("offline") {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		monitor.CheckNow(probeCtx)
		cancel()
	}

	gw := gateway.New(client, store, monitor)
	sy := syncer.New(client, store, monitor, nil)
	return fn(ctx, env{Gateway: gw, Syncer: sy, Monitor: monitor, Store: store})
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks move todo -> in-progress -> done. All commands work offline; mutations made without connectivity are queued and replayed by 'tl sync'.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskStartCmd())
	task.AddCommand(taskDoneCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskReorderCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var title, description, status string
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e env) error {
				t := domain.Task{Title: title, Description: description, Status: status}
				if cmd.Flags().Changed("priority") {
					t.Priority = &priority
				}
				res, err := e.Gateway.Create(ctx, t)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", domain.StatusTodo, "status (todo, in-progress, done)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower sorts first)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f gateway.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e env) error {
				tasks, err := e.Gateway.Tasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Created"})
				for _, t := range tasks {
					prio := ""
					if t.Priority != nil {
						prio = strconv.Itoa(*t.Priority)
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, prio, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.SortBy, "sort-by", "", "sort field (priority, created_at, title)")
	cmd.Flags().StringVar(&f.Order, "order", "", "sort order (asc, desc)")
	cmd.Flags().IntVar(&f.Page, "page", 0, "page number")
	cmd.Flags().IntVar(&f.PerPage, "per-page", 0, "page size")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, e env) error {
				t, err := e.Gateway.Task(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status string
	var priority int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var p api.TaskPatch
			if cmd.Flags().Changed("title") {
				p.Title = &title
			}
			if cmd.Flags().Changed("description") {
				p.Description = &description
			}
			if cmd.Flags().Changed("status") {
				p.Status = &status
			}
			if cmd.Flags().Changed("priority") {
				p.Priority = &priority
			}
			return withEnv(cmd.Context(), func(ctx context.Context, e env) error {
				t, err := e.Gateway.Patch(ctx, id, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority")
	return cmd
}

func taskStartCmd() *cobra.Command {
	return statusShortcutCmd("start", "Move task to in-progress", domain.StatusInProgress)
}

func taskDoneCmd() *cobra.Command {
	return statusShortcutCmd("done", "Complete task", domain.StatusDone)
}

func statusShortcutCmd(use, short, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, e env) error {
				t, err := e.Gateway.ChangeStatus(ctx, id, status)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, e env) error {
				return e.Gateway.Delete(ctx, id)
			})
		},
	}
	return cmd
}

func taskReorderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reorder <id> [<id>...]",
		Short: "Reorder tasks",
		Long:  "Rewrites priorities so the listed ids come first, in the given order. Tasks not listed keep their relative order after them.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return withEnv(cmd.Context(), func(ctx context.Context, e env) error {
				tasks, err := e.Gateway.Tasks(ctx, gateway.Filter{})
				if err != nil {
					return err
				}
				ordered, err := arrange(tasks, ids)
				if err != nil {
					return err
				}
				res, err := e.Gateway.Reorder(ctx, ordered)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

// arrange puts the tasks matching ids first, in id order, followed by
// the remaining tasks in their current order.
func arrange(tasks []domain.Task, ids []int64) ([]domain.Task, error) {
	byID := make(map[int64]domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	picked := make(map[int64]bool, len(ids))
	out := make([]domain.Task, 0, len(tasks))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown task id %d", id)
		}
		if picked[id] {
			return nil, fmt.Errorf("duplicate task id %d", id)
		}
		picked[id] = true
		out = append(out, t)
	}
	for _, t := range tasks {
		if !picked[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func syncCmd() *cobra.Command {
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Inspect and drive offline sync",
	}
	sync.AddCommand(syncNowCmd())
	sync.AddCommand(syncStatusCmd())
	sync.AddCommand(syncWatchCmd())
	sync.AddCommand(syncClearCmd())
	return sync
}

func syncNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Replay queued mutations against the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e env) error {
				if err := e.Syncer.ForceSync(ctx); err != nil {
					return err
				}
				status, err := e.Syncer.Status(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(status)
			})
		},
	}
}

func syncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, pending count, and last sync time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e env) error {
				status, err := e.Syncer.Status(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(status)
				}
				fmt.Printf("Online: %v\n", status.IsOnline)
				fmt.Printf("Pending actions: %d\n", status.PendingSyncCount)
				if status.LastSyncTime != "" {
					fmt.Printf("Last sync: %s\n", status.LastSyncTime)
				} else {
					fmt.Println("Last sync: never")
				}
				return nil
			})
		},
	}
}

func syncWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch connectivity and replay the queue on reconnect",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, e env) error {
				e.Monitor.Start(ctx)
				defer e.Monitor.Stop()
				fmt.Println("Watching connectivity; Ctrl-C to stop.")
				if err := e.Syncer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
}

func syncClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop all queued mutations without replaying them",
		Long:  "Discards the pending-action queue. Use when a failing action is blocking the queue and the lost mutations are acceptable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to drop the queue without --yes")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, e env) error {
				count, err := e.Store.PendingCount(ctx)
				if err != nil {
					return err
				}
				if err := e.Store.ClearPendingActions(ctx); err != nil {
					return err
				}
				fmt.Printf("Dropped %d pending action(s).\n", count)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping unreplayed mutations")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tasks API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			handler, err := server.New(server.Config{
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: cfg.Server.JWTSecret},
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
			fmt.Printf("Serving Taskline API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	return cfg
}

// --- helpers ---

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
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
