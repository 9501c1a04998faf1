package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ward-ops/ward/internal/config"
	"github.com/ward-ops/ward/internal/console"
	ward "github.com/ward-ops/ward/sdk"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the guided incident-response scenarios against a backend",
	Long: `Run three guided scenarios against a running backend:

  1. Mode gating and temporary grants: a modification tool is blocked in
     NORMAL mode, unlocked by a time-bounded emergency grant, and blocked
     again after revocation.
  2. Incident scoping: with a declared incident scope, modification tools
     only reach the affected unhealthy services.
  3. Shadow execution and chat: a dry run predicts impact without touching
     the estate, and the chat agent's tool calls face the same policy.

Start a backend first: ward serve`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	client := ward.NewClient(
		ward.WithServerAddr(cfg.Client.ServerAddr),
		ward.WithTimeout(cfg.Client.Timeout),
		ward.WithLogger(logger),
	)

	app := console.NewAppState(client, logger, console.Config{
		InfraRefreshInterval: cfg.Client.InfraRefreshInterval,
		ChatPollInterval:     cfg.Client.ChatPollInterval,
	})
	defer app.Close()

	ctx := cmd.Context()
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("backend at %s not ready: %w", cfg.Client.ServerAddr, err)
	}
	fmt.Printf("connected to %s (mode: %s)\n\n", cfg.Client.ServerAddr, app.Mode.CurrentMode())

	if err := demoGrantLifecycle(ctx, app); err != nil {
		return err
	}
	if err := demoIncidentScope(ctx, app); err != nil {
		return err
	}
	if err := demoShadowAndChat(ctx, app); err != nil {
		return err
	}

	fmt.Println("\nall scenarios complete")
	return nil
}

func demoGrantLifecycle(ctx context.Context, app *console.AppState) error {
	fmt.Println("--- scenario 1: mode gating and temporary grants ---")

	result, err := app.Tools.Execute(ctx, "restart_service",
		map[string]any{"service_name": "web-server"}, ward.ModeReal)
	if err != nil {
		return err
	}
	fmt.Printf("restart in NORMAL: blocked=%v (%s)\n", result.PolicyViolation, result.BlockedReason)

	grant, err := app.Grant.Grant(ctx, 300, "demo incident response")
	if err != nil {
		return err
	}
	fmt.Printf("granted %s until %s (remaining %s)\n",
		grant.Mode, grant.ExpiryTime.Format(time.Kitchen), app.Grant.Remaining(time.Now()).Round(time.Second))

	result, err = app.Tools.Execute(ctx, "restart_service",
		map[string]any{"service_name": "web-server"}, ward.ModeReal)
	if err != nil {
		return err
	}
	fmt.Printf("restart under grant: success=%v\n", result.Success)

	if err := app.Grant.Revoke(ctx); err != nil {
		return err
	}
	fmt.Printf("revoked; mode is %s again\n\n", app.Mode.CurrentMode())
	return nil
}

func demoIncidentScope(ctx context.Context, app *console.AppState) error {
	fmt.Println("--- scenario 2: incident scoping ---")

	if err := app.Client.SimulateIncident(ctx, "database", "critical"); err != nil {
		return err
	}
	if err := app.Mode.SetMode(ctx, "EMERGENCY"); err != nil {
		return err
	}
	if err := app.Incident.SetScope(ctx, []string{"database"}, "outage", "database is down"); err != nil {
		return err
	}
	fmt.Printf("scope declared: %v\n", app.Incident.Scope().AffectedServices)

	result, err := app.Tools.Execute(ctx, "restart_service",
		map[string]any{"service_name": "api-gateway"}, ward.ModeReal)
	if err != nil {
		return err
	}
	fmt.Printf("restart out-of-scope service: blocked=%v\n", result.PolicyViolation)

	result, err = app.Tools.Execute(ctx, "restart_service",
		map[string]any{"service_name": "database"}, ward.ModeReal)
	if err != nil {
		return err
	}
	fmt.Printf("restart affected service: success=%v\n", result.Success)

	if err := app.Incident.ClearScope(ctx); err != nil {
		return err
	}
	if err := app.Mode.SetMode(ctx, "NORMAL"); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

func demoShadowAndChat(ctx context.Context, app *console.AppState) error {
	fmt.Println("--- scenario 3: shadow execution and chat ---")

	if err := app.Mode.SetMode(ctx, "EMERGENCY"); err != nil {
		return err
	}
	result, err := app.Tools.Execute(ctx, "scale_fleet",
		map[string]any{"count": 10}, ward.ModeShadow)
	if err != nil {
		return err
	}
	fmt.Printf("shadow scale_fleet: success=%v impact=%s\n", result.Success, result.Result)
	if err := app.Mode.SetMode(ctx, "NORMAL"); err != nil {
		return err
	}

	chat := app.Chat("demo")
	if err := chat.SendMessage(ctx, "restart the database"); err != nil {
		return err
	}
	deadline := time.Now().Add(30 * time.Second)
	for chat.Processing() || chat.Polling() {
		if time.Now().After(deadline) {
			return fmt.Errorf("chat turn never completed")
		}
		time.Sleep(200 * time.Millisecond)
	}
	for _, msg := range chat.Messages() {
		fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
	}
	return chat.ClearMessages(ctx)
}
