package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"brigade/internal/app"
	"brigade/internal/domain"
	"brigade/internal/engine"
	"brigade/internal/repo"
)

func roleCmd() *cobra.Command {
	role := &cobra.Command{
		Use:   "role",
		Short: "Manage roles",
		Long:  "Roles own tasks, user links, phase links and log assignments. Archive a role to hand all of them to the placeholder role in one step.",
	}
	role.AddCommand(roleCreateCmd())
	role.AddCommand(roleListCmd())
	role.AddCommand(roleShowCmd())
	role.AddCommand(roleStatusCmd())
	role.AddCommand(roleDependentsCmd())
	role.AddCommand(roleArchiveCmd())
	return role
}

func roleCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.CreateRole(ctx, engine.RoleCreateOptions{ID: id, Name: name, ActorID: viper.GetString("actor-id")})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				fmt.Printf("created role %s (%s)\n", r.ID, r.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "role id (generated if empty)")
	cmd.Flags().StringVar(&name, "name", "", "role name")
	return cmd
}

func roleListCmd() *cobra.Command {
	var status string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter domain.RoleStatus
			if status != "" {
				parsed, err := domain.ParseRoleStatus(status)
				if err != nil {
					return err
				}
				filter = parsed
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				roles, err := a.Engine.Repo.ListRoles(ctx, filter, all)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(roles)
				}
				rows := make([]table.Row, 0, len(roles))
				for _, r := range roles {
					rows = append(rows, table.Row{r.ID, r.Name, r.Status, r.UpdatedAt, deref(r.ArchivedAt)})
				}
				renderTable(table.Row{"ID", "Name", "Status", "Updated", "Archived"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (active, deprecated, archived)")
	cmd.Flags().BoolVar(&all, "include-placeholder", false, "include the placeholder role")
	return cmd
}

func roleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <role-id>",
		Short: "Show role and its dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.Repo.GetRole(ctx, nil, args[0])
				if err != nil {
					return err
				}
				deps, err := a.Engine.RoleDependents(ctx, r.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"role": r, "dependents": deps})
				}
				fmt.Printf("Role: %s - %s [%s]\n", r.ID, r.Name, r.Status)
				printDependents(deps)
				return nil
			})
		},
	}
}

func roleStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <role-id> <active|deprecated>",
		Short: "Change role status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseRoleStatus(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r, err := a.Engine.UpdateRoleStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				fmt.Printf("role %s is now %s\n", r.ID, r.Status)
				return nil
			})
		},
	}
}

func roleDependentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dependents <role-id>",
		Short: "Count rows that reference a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				deps, err := a.Engine.RoleDependents(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(deps)
				}
				printDependents(deps)
				return nil
			})
		},
	}
}

func roleArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <role-id>",
		Short: "Archive role and reassign its dependents",
		Long:  "Moves tasks, user links, phase links and log assignments to the placeholder role, marks the role archived and enqueues an AggregateArchived event, all in one transaction.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.ArchiveRole(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("archived %s -> %s (event %s)\n", res.ArchivedID, res.PlaceholderID, res.EventID)
				printDependents(res.Cascade)
				return nil
			})
		},
	}
}

func printDependents(d domain.Dependents) {
	renderTable(table.Row{"Tasks", "User links", "Phase links", "Log assignments"},
		[]table.Row{{d.Tasks, d.UserLinks, d.PhaseLinks, d.LogAssignments}})
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskStatusCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var id, title, roleID, status string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskCreateOptions{ID: id, Title: title, RoleID: roleID, ActorID: viper.GetString("actor-id")}
			if status != "" {
				s, err := domain.ParseTaskStatus(status)
				if err != nil {
					return err
				}
				opts.Status = s
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("created task %s for role %s\n", t.ID, t.RoleID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id (generated if empty)")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&roleID, "role", "", "owning role id")
	cmd.Flags().StringVar(&status, "status", "", "initial status (default active)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var roleID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.Repo.ListTasks(ctx, roleID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				rows := make([]table.Row, 0, len(tasks))
				for _, t := range tasks {
					rows = append(rows, table.Row{t.ID, t.Title, t.RoleID, t.Status})
				}
				renderTable(table.Row{"ID", "Title", "Role", "Status"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&roleID, "role", "", "role filter")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Change task status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseTaskStatus(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.SetTaskStatus(ctx, args[0], status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("task %s is now %s\n", t.ID, t.Status)
				return nil
			})
		},
	}
}

func linkCmd() *cobra.Command {
	link := &cobra.Command{Use: "link", Short: "Attach users, phases and log forms to roles"}
	link.AddCommand(linkUserCmd())
	link.AddCommand(linkPhaseCmd())
	link.AddCommand(linkLogCmd())
	link.AddCommand(linkListCmd())
	return link
}

func linkUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user <role-id> <user-id>",
		Short: "Link a user to a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.Engine.LinkUser(ctx, args[0], args[1], viper.GetString("actor-id"))
				return reportLink(args[0], args[1], created, err)
			})
		},
	}
}

func linkPhaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phase <role-id> <phase-id>",
		Short: "Link a phase to a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.Engine.LinkPhase(ctx, args[0], args[1], viper.GetString("actor-id"))
				return reportLink(args[0], args[1], created, err)
			})
		},
	}
}

func reportLink(roleID, otherID string, created bool, err error) error {
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(map[string]any{"role_id": roleID, "link_id": otherID, "created": created})
	}
	if created {
		fmt.Printf("linked %s to %s\n", otherID, roleID)
	} else {
		fmt.Printf("%s already linked to %s\n", otherID, roleID)
	}
	return nil
}

func linkLogCmd() *cobra.Command {
	var formID, recurrence string
	cmd := &cobra.Command{
		Use:   "log <role-id>",
		Short: "Assign a log form to a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				la, err := a.Engine.AddLogAssignment(ctx, engine.LogAssignmentOptions{
					RoleID:     args[0],
					FormID:     formID,
					Recurrence: recurrence,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(la)
				}
				fmt.Printf("assigned form %s to %s (%s)\n", la.FormID, la.RoleID, la.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&formID, "form", "", "log form id")
	cmd.Flags().StringVar(&recurrence, "recurrence", "", "recurrence rule")
	return cmd
}

func linkListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <role-id>",
		Short: "List everything linked to a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				users, err := a.Engine.Repo.ListUserLinks(ctx, args[0])
				if err != nil {
					return err
				}
				phases, err := a.Engine.Repo.ListPhaseLinks(ctx, args[0])
				if err != nil {
					return err
				}
				logs, err := a.Engine.Repo.ListLogAssignments(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"users": users, "phases": phases, "log_assignments": logs})
				}
				var rows []table.Row
				for _, u := range users {
					rows = append(rows, table.Row{"user", u.UserID, ""})
				}
				for _, p := range phases {
					rows = append(rows, table.Row{"phase", p.PhaseID, ""})
				}
				for _, l := range logs {
					rows = append(rows, table.Row{"log", l.FormID, l.Recurrence})
				}
				renderTable(table.Row{"Kind", "ID", "Recurrence"}, rows)
				return nil
			})
		},
	}
}

func outboxCmd() *cobra.Command {
	ob := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect outbox events",
	}
	ob.AddCommand(outboxListCmd())
	ob.AddCommand(outboxRequeueCmd())
	return ob
}

func outboxListCmd() *cobra.Command {
	var f repo.OutboxFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.ListOutbox(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				rows := make([]table.Row, 0, len(events))
				for _, ev := range events {
					state := "pending"
					switch {
					case ev.ProcessedAt != nil:
						state = "processed"
					case ev.QuarantinedAt != nil:
						state = "quarantined"
					}
					rows = append(rows, table.Row{ev.Seq, ev.EventID, ev.EventType, ev.AggregateID, state, ev.Attempts, ev.LastError})
				}
				renderTable(table.Row{"Seq", "Event", "Type", "Aggregate", "State", "Attempts", "Last error"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&f.PendingOnly, "pending", false, "only unprocessed events")
	cmd.Flags().StringVar(&f.AggregateID, "aggregate-id", "", "aggregate filter")
	cmd.Flags().StringVar(&f.EventType, "type", "", "event type filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max events")
	return cmd
}

func outboxRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <event-id>",
		Short: "Release a quarantined event for redelivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Relay.Requeue(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("requeued", args[0])
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	aud := &cobra.Command{Use: "audit", Short: "Read the audit log"}
	aud.AddCommand(auditTailCmd())
	return aud
}

func auditTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show latest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.Repo.LatestAudit(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				rows := make([]table.Row, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, table.Row{e.ID, e.CreatedAt, e.ActorID, e.Action})
				}
				renderTable(table.Row{"ID", "At", "Actor", "Action"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	keys.AddCommand(apiKeyCreateCmd())
	keys.AddCommand(apiKeyListCmd())
	keys.AddCommand(apiKeyDeleteCmd())
	return keys
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "brg_" + hex.EncodeToString(raw)
			key := domain.APIKey{
				ID:      uuid.NewString(),
				ActorID: viper.GetString("actor-id"),
				Name:    name,
				KeyHash: repo.HashAPIKey(secret),
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "key": secret})
				}
				fmt.Printf("api key %s for %s (shown once): %s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				rows := make([]table.Row, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				renderTable(table.Row{"ID", "Actor", "Name", "Created"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor filter")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}
