package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"wabridge/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your wabridge installation",
		Long: `Verifies that the configuration, the session store, the listen port and
the optional Redis lock backend are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("wabridge doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			var cfg *config.Config
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
				cfg, _ = config.LoadOrDefault(cfgPath)
			} else {
				printPass("Config file", cfgPath)
				passed++
				loaded, err := config.Load(cfgPath)
				if err != nil {
					printFail("Config validation", err.Error())
					failed++
					fmt.Printf("\n%d passed, %d failed\n", passed, failed)
					return fmt.Errorf("invalid config")
				}
				printPass("Config validation", "valid")
				passed++
				cfg = loaded
			}

			// 2. Session store writable
			paired, err := checkSessionStore(cfg.Session.StorePath)
			switch {
			case err != nil:
				printFail("Session store", err.Error())
				failed++
			case !paired:
				printWarn("Session store", fmt.Sprintf("%s (not paired yet, serve will show a QR code)", cfg.Session.StorePath))
				warned++
			default:
				printPass("Session store", fmt.Sprintf("%s (paired)", cfg.Session.StorePath))
				passed++
			}

			// 3. Listen port
			if err := checkPort(cfg.Server.Addr()); err != nil {
				printWarn("HTTP port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
				warned++
			} else {
				printPass("HTTP port", fmt.Sprintf("%s available", cfg.Server.Addr()))
				passed++
			}

			// 4. API key
			if cfg.Server.APIKey == "" {
				printWarn("API key", "not set, send endpoints are open to anyone who can reach the port")
				warned++
			} else {
				printPass("API key", "configured")
				passed++
			}

			// 5. Media limits
			if cfg.Media.MaxBytes == 0 || cfg.Media.TimeoutSeconds == 0 {
				printWarn("Media limits", "media downloads have no size or time limit")
				warned++
			} else {
				printPass("Media limits", fmt.Sprintf("%d bytes, %ds", cfg.Media.MaxBytes, cfg.Media.TimeoutSeconds))
				passed++
			}

			// 6. Redis lock backend
			if cfg.Dispatch.Serialize == "redis" {
				if err := checkRedis(cfg.Dispatch); err != nil {
					printFail("Redis", err.Error())
					failed++
				} else {
					printPass("Redis", cfg.Dispatch.RedisAddr)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running wabridge.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nwabridge should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! wabridge is ready to run.\n")
			}
			return nil
		},
	}
}

// checkSessionStore opens the device store, proves it is writable and reports
// whether a device has been paired.
func checkSessionStore(dbPath string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return false, fmt.Errorf("cannot create session directory: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return false, fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return false, fmt.Errorf("cannot ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return false, fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	var devices int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM whatsmeow_device").Scan(&devices); err != nil {
		// Table is created on first serve.
		return false, nil
	}
	return devices > 0, nil
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func checkRedis(cfg config.DispatchConfig) error {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping %s: %w", cfg.RedisAddr, err)
	}
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
