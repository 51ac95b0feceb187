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

	"slaline/internal/app"
	"slaline/internal/config"
	"slaline/internal/db"
	"slaline/internal/domain"
	"slaline/internal/engine"
	"slaline/internal/migrate"
	"slaline/internal/repo"
	"slaline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sla",
	Short: "Slaline CLI",
	Long: `Slaline is an SLA registry and breach-detection engine.
Clients hold contracts, contracts hold SLAs, and every metric report is
evaluated against the SLA's threshold rule. A failing evaluation opens an
alert that operators acknowledge and resolve. Everything the registry does
lands in an append-only event log ('sla log tail').`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
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
	viper.SetEnvPrefix("SLALINE")
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
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(slaCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(alertCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- client ---

func clientCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "client", Short: "Manage clients"}
	cmd.AddCommand(clientRegisterCmd())
	cmd.AddCommand(clientListCmd())
	cmd.AddCommand(clientShowCmd())
	return cmd
}

func clientRegisterCmd() *cobra.Command {
	var name, ownerRef string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.RegisterClient(ctx, name, ownerRef, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "client name")
	cmd.Flags().StringVar(&ownerRef, "owner-ref", "", "owner contact reference")
	return cmd
}

func clientListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListClients(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Active"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.OwnerRef, c.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func clientShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a client and its contracts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetClient(ctx, id)
				if err != nil {
					return err
				}
				contracts, err := e.Repo.ListContractsByClient(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"client": c, "contracts": contracts})
			})
		},
	}
	return cmd
}

// --- contract ---

func contractCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "contract", Short: "Manage contracts"}
	cmd.AddCommand(contractCreateCmd())
	cmd.AddCommand(contractShowCmd())
	cmd.AddCommand(contractSetDocumentCmd())
	cmd.AddCommand(contractSLAListCmd())
	return cmd
}

func contractCreateCmd() *cobra.Command {
	var clientID int64
	var externalID, documentRef, startAt, endAt, slasJSON string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a contract, optionally with inline SLAs",
		Long: `Create a contract under an active client. Pass --slas a JSON array of
SLA definitions to create the contract and its SLAs in one shot, e.g.
  --slas '[{"name":"p95 latency","target":250,"comparator":"le"}]'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == 0 {
				return fmt.Errorf("--client required")
			}
			var defs []engine.SLADefinition
			if slasJSON != "" {
				var raw []struct {
					Name          string `json:"name"`
					Description   string `json:"description"`
					Target        int64  `json:"target"`
					Comparator    string `json:"comparator"`
					WindowSeconds int64  `json:"window_seconds"`
				}
				if err := json.Unmarshal([]byte(slasJSON), &raw); err != nil {
					return fmt.Errorf("invalid --slas: %w", err)
				}
				for _, d := range raw {
					defs = append(defs, engine.SLADefinition{
						Name:          d.Name,
						Description:   d.Description,
						Target:        d.Target,
						Comparator:    domain.Comparator(d.Comparator),
						WindowSeconds: d.WindowSeconds,
					})
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				contract, slas, err := e.CreateContract(ctx, engine.ContractCreateOptions{
					ClientID:    clientID,
					ExternalID:  externalID,
					DocumentRef: documentRef,
					StartAt:     startAt,
					EndAt:       endAt,
					SLAs:        defs,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"contract": contract, "slas": slas})
			})
		},
	}
	cmd.Flags().Int64Var(&clientID, "client", 0, "client id")
	cmd.Flags().StringVar(&externalID, "external-id", "", "external contract reference")
	cmd.Flags().StringVar(&documentRef, "document", "", "contract document reference")
	cmd.Flags().StringVar(&startAt, "start-at", "", "contract start (RFC3339)")
	cmd.Flags().StringVar(&endAt, "end-at", "", "contract end (RFC3339)")
	cmd.Flags().StringVar(&slasJSON, "slas", "", "inline SLA definitions (JSON array)")
	return cmd
}

func contractShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetContract(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func contractSetDocumentCmd() *cobra.Command {
	var documentRef string
	cmd := &cobra.Command{
		Use:   "set-document <id>",
		Short: "Replace the contract's document reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateContractDocument(ctx, id, documentRef, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&documentRef, "document", "", "document reference")
	return cmd
}

func contractSLAListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slas <id>",
		Short: "List a contract's SLAs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSLAs(ctx, repo.SLAFilters{ContractID: id})
				if err != nil {
					return err
				}
				return printSLAs(items)
			})
		},
	}
	return cmd
}

// --- sla ---

func slaCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sla", Short: "Manage SLAs"}
	cmd.AddCommand(slaAddCmd())
	cmd.AddCommand(slaListCmd())
	cmd.AddCommand(slaShowCmd())
	cmd.AddCommand(slaPauseCmd())
	cmd.AddCommand(slaResumeCmd())
	cmd.AddCommand(slaSetTargetCmd())
	cmd.AddCommand(slaSetParamsCmd())
	return cmd
}

func slaAddCmd() *cobra.Command {
	var contractID, target, windowSeconds int64
	var name, description, comparator string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Attach an SLA to a contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			if contractID == 0 || name == "" {
				return fmt.Errorf("--contract and --name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.AddSLA(ctx, engine.SLACreateOptions{
					ContractID: contractID,
					SLADefinition: engine.SLADefinition{
						Name:          name,
						Description:   description,
						Target:        target,
						Comparator:    domain.Comparator(comparator),
						WindowSeconds: windowSeconds,
					},
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().Int64Var(&contractID, "contract", 0, "contract id")
	cmd.Flags().StringVar(&name, "name", "", "SLA name")
	cmd.Flags().StringVar(&description, "description", "", "SLA description")
	cmd.Flags().Int64Var(&target, "target", 0, "threshold target")
	cmd.Flags().StringVar(&comparator, "comparator", "le", "comparator (lt|le|eq|ne|ge|gt)")
	cmd.Flags().Int64Var(&windowSeconds, "window-seconds", 0, "evaluation window (0 = registry default)")
	return cmd
}

func slaListCmd() *cobra.Command {
	var f repo.SLAFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List SLAs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSLAs(ctx, f)
				if err != nil {
					return err
				}
				return printSLAs(items)
			})
		},
	}
	cmd.Flags().Int64Var(&f.ContractID, "contract", 0, "contract filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (active|paused|archived)")
	return cmd
}

func slaShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an SLA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetSLA(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func slaPauseCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause an active SLA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.PauseSLA(ctx, id, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "pause reason")
	return cmd
}

func slaResumeCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused SLA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ResumeSLA(ctx, id, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "resume reason")
	return cmd
}

func slaSetTargetCmd() *cobra.Command {
	var target int64
	var reason string
	cmd := &cobra.Command{
		Use:   "set-target <id>",
		Short: "Overwrite the SLA target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpdateSLATarget(ctx, id, target, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().Int64Var(&target, "target", 0, "new threshold target")
	cmd.Flags().StringVar(&reason, "reason", "", "change reason")
	return cmd
}

func slaSetParamsCmd() *cobra.Command {
	var windowSeconds int64
	var comparator, reason string
	cmd := &cobra.Command{
		Use:   "set-params <id>",
		Short: "Overwrite the SLA comparator and window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpdateSLAParams(ctx, id, domain.Comparator(comparator), windowSeconds, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&comparator, "comparator", "", "comparator (lt|le|eq|ne|ge|gt)")
	cmd.Flags().Int64Var(&windowSeconds, "window-seconds", 0, "evaluation window in seconds")
	cmd.Flags().StringVar(&reason, "reason", "", "change reason")
	return cmd
}

// --- report ---

func reportCmd() *cobra.Command {
	var observed int64
	var note string
	cmd := &cobra.Command{
		Use:   "report <sla-id>",
		Short: "Report a metric observation against an SLA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.ReportMetric(ctx, id, observed, note, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				verdict := "PASS"
				if !out.Passed {
					verdict = "BREACH"
				}
				fmt.Printf("%s  sla=%d observed=%d target=%s %d  consecutive=%d total_breaches=%d total_pass=%d\n",
					verdict, out.SLA.ID, observed, out.SLA.Comparator, out.SLA.Target,
					out.SLA.ConsecutiveBreaches, out.SLA.TotalBreaches, out.SLA.TotalPass)
				if out.Alert != nil {
					fmt.Printf("alert #%d opened\n", out.Alert.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&observed, "observed", 0, "observed metric value")
	cmd.Flags().StringVar(&note, "note", "", "report note, recorded as the alert reason on breach")
	return cmd
}

// --- alert ---

func alertCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "alert", Short: "Work the alert queue"}
	cmd.AddCommand(alertListCmd())
	cmd.AddCommand(alertShowCmd())
	cmd.AddCommand(alertAckCmd())
	cmd.AddCommand(alertResolveCmd())
	return cmd
}

func alertListCmd() *cobra.Command {
	var f repo.AlertFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAlerts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "SLA", "Status", "Reason", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.SLAID, a.Status, a.Reason, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&f.SLAID, "sla", 0, "SLA filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (open|acknowledged|resolved)")
	return cmd
}

func alertShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAlert(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func alertAckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ack <id>",
		Short: "Acknowledge an open alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AcknowledgeAlert(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func alertResolveCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ResolveAlert(ctx, id, viper.GetString("actor-id"), note)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "resolution note")
	return cmd
}

// --- status / log ---

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show registry status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				clients, err := e.Repo.CountClients(ctx)
				if err != nil {
					return err
				}
				slaCounts, err := e.Repo.CountSLAsByStatus(ctx)
				if err != nil {
					return err
				}
				alertCounts, err := e.Repo.CountAlertsByStatus(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"registry":     e.Config.Registry.Name,
					"clients":      clients,
					"sla_counts":   slaCounts,
					"alert_counts": alertCounts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Registry: %s\n", e.Config.Registry.Name)
				fmt.Printf("Clients: %d\n", clients)
				fmt.Println("SLAs:")
				for status, c := range slaCounts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Println("Alerts:")
				for status, c := range alertCounts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage registry config"}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configImportCmd())
	cmd.AddCommand(configValidateCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default slaline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			return os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644)
		},
	}
	cmd.Flags().StringVar(&name, "name", "default-registry", "registry name")
	return cmd
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from a YAML file into the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.UpsertRegistryConfigTx(ctx, tx, cfg); err != nil {
					return err
				}
				if err := r.SyncRoles(ctx, tx, cfg.RBAC.Roles); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config YAML file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate slaline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	return cmd
}

// --- rbac / apikey ---

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "Manage roles and capabilities"}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current actor's roles and capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				roles, err := e.Auth.ActorRoles(ctx, tx, actorID)
				if err != nil {
					return err
				}
				caps, err := e.Auth.ActorCapabilities(ctx, tx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrTable(domain.ActorProfile{
					ActorID:      actorID,
					Roles:        roles,
					Capabilities: caps,
				})
			})
		},
	}
	return cmd
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureActor(ctx, tx, target, time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				if err := r.AssignRole(ctx, tx, target, role); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.RevokeRole(ctx, tx, target, role); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for an actor (the secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			secret := uuid.NewString()
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureActor(ctx, tx, actor, time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"actor_id": actor,
					"key":      secret,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
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
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              cfg.Auth.JWTSecret,
				AllowLegacyActorHeader: allowLegacyHeader || cfg.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" {
				authCfg.JWTSecret = os.Getenv("SLALINE_JWT_SECRET")
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("auth.jwt_secret (or SLALINE_JWT_SECRET) is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Slaline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, workspace, viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
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

func printSLAs(items []domain.SLA) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Contract", "Name", "Rule", "Status", "Consecutive", "Breaches", "Pass"})
	for _, s := range items {
		rule := fmt.Sprintf("%s %d", s.Comparator, s.Target)
		tw.AppendRow(table.Row{s.ID, s.ContractID, s.Name, rule, s.Status, s.ConsecutiveBreaches, s.TotalBreaches, s.TotalPass})
	}
	tw.Render()
	return nil
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

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
