package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/botparty/internal/config"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate bot definitions and secrets without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck()
		},
	}
}

func runCheck() error {
	fmt.Println("botparty check")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	secretsPath := resolveSecretsPath()
	printFileStatus("Config:", cfgPath)
	printFileStatus("Secrets:", secretsPath)

	cfg, err := config.Load(cfgPath, secretsPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return err
	}

	fmt.Println()
	fmt.Printf("  %-10s %s\n", "Logs:", orNone(cfg.Logging.Dir))
	fmt.Printf("  %-10s %s\n", "Sessions:", orNone(cfg.Sessions.Storage))
	if cfg.Telemetry.Enabled {
		fmt.Printf("  %-10s %s (%s)\n", "Tracing:", cfg.Telemetry.Endpoint, orDefault(cfg.Telemetry.Protocol, "grpc"))
	} else {
		fmt.Printf("  %-10s disabled\n", "Tracing:")
	}

	fmt.Println()
	fmt.Println("  Agents:")
	bad := 0
	for _, key := range cfg.AgentKeys() {
		ac, err := cfg.ResolveAgent(key)
		if err != nil {
			bad++
			fmt.Printf("    %-12s INVALID (%s)\n", key+":", err)
			continue
		}
		flags := ac.Platform
		if ac.StartMuted {
			flags += ", muted"
		}
		if ac.Webhook != nil {
			flags += ", webhook " + ac.Webhook.Interval.String()
		}
		if !ac.ListenEvents {
			flags += ", send-only"
		}
		fmt.Printf("    %-12s OK (%s) -> %s\n", key+":", flags, ac.DefaultChannel)
	}
	if len(cfg.Agents) == 0 {
		fmt.Println("    (none)")
	}

	fmt.Println()
	if bad > 0 {
		return fmt.Errorf("%d of %d agents are invalid", bad, len(cfg.Agents))
	}
	fmt.Println("  All agents OK.")
	return nil
}

func printFileStatus(label, path string) {
	fmt.Printf("  %-10s %s", label, path)
	if _, err := os.Stat(path); err != nil {
		fmt.Println(" (NOT FOUND)")
	} else {
		fmt.Println(" (OK)")
	}
}

func orNone(s string) string {
	return orDefault(s, "(none)")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
