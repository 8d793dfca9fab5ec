package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"supportdesk/internal/config"
	"supportdesk/internal/directory"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your SupportDesk installation",
		Long: `Verifies that the configuration, conversation directory, seed data and
listen port are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("SupportDesk Doctor v%s\n\n", version)

			var passed, failed, warned int

			cfg, found, err := config.LoadOrDefaults(cfgPath)
			switch {
			case err != nil:
				printFail("Config", err.Error())
				fmt.Printf("\nFix the config file or run 'supportdesk init --force'.\n")
				return fmt.Errorf("config invalid")
			case !found:
				printWarn("Config", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
			default:
				printPass("Config", cfgPath)
				passed++
			}

			if err := checkDatabase(cfg.Directory.DBPath); err != nil {
				printFail("Directory", err.Error())
				failed++
			} else {
				printPass("Directory", dbLabel(cfg.Directory.DBPath))
				passed++
			}

			if err := checkSeed(cfg.Directory.SeedFile); err != nil {
				printFail("Seed data", err.Error())
				failed++
			} else {
				printPass("Seed data", seedLabel(cfg.Directory.SeedFile))
				passed++
			}

			if err := checkPort(cfg.Web.Host, cfg.Web.Port); err != nil {
				printWarn("Web port", fmt.Sprintf("port %d may be in use: %v", cfg.Web.Port, err))
				warned++
			} else {
				printPass("Web port", net.JoinHostPort(cfg.Web.Host, strconv.Itoa(cfg.Web.Port))+" available")
				passed++
			}

			if cfg.Web.Auth.Enabled && cfg.Web.Auth.PasswordHash == "" {
				printWarn("Basic auth", "enabled without a password hash")
				warned++
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(config.ExpandPath(cfg.General.LogFile)), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if dbPath == "" || dbPath == ":memory:" {
		return nil
	}
	dbPath = config.ExpandPath(dbPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	if v, err := directory.GetSchemaVersion(db); err == nil && v > 0 {
		fmt.Printf("         schema version %d\n", v)
	}
	return nil
}

func checkSeed(seedFile string) error {
	if seedFile == "" {
		_, err := directory.DefaultSeed()
		return err
	}
	_, err := directory.LoadSeedFile(config.ExpandPath(seedFile))
	return err
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func dbLabel(dbPath string) string {
	if dbPath == "" || dbPath == ":memory:" {
		return "in memory"
	}
	return dbPath
}

func seedLabel(seedFile string) string {
	if seedFile == "" {
		return "embedded demo data"
	}
	return seedFile
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-12s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-12s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-12s %s\n", check, detail)
}
