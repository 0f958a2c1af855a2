// ABOUTME: Admin CLI for fold-auth credential and recovery management
// ABOUTME: Operates directly on the database; run it on the host that owns the store

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/fold-auth/internal/audit"
	"github.com/2389/fold-auth/internal/config"
	"github.com/2389/fold-auth/internal/credentials"
	"github.com/2389/fold-auth/internal/kv"
	"github.com/2389/fold-auth/internal/recovery"
)

const banner = `
  __      _     _                      _           _
 / _| ___| | __| |       __ _  __| |_ __ ___ (_)_ __
| |_ / _ \ |/ _' |_____ / _' |/ _' | '_ ' _ \| | '_ \
|  _| (_) | | (_| |_____| (_| | (_| | | | | | | | | | |
|_|  \___/|_|\__,_|      \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	args := os.Args[1:]

	// Global --db flag overrides the config file's database path.
	var dbPath string
	filtered := args[:0]
	for i := 0; i < len(args); i++ {
		if args[i] == "--db" && i+1 < len(args) {
			dbPath = args[i+1]
			i++
			continue
		}
		filtered = append(filtered, args[i])
	}
	args = filtered

	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	args = args[1:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	store, err := openStore(dbPath)
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	creds := credentials.NewStore(store)
	sink := audit.NewStoreSink(store)
	rec := recovery.NewService(store, creds, nil, sink, 0)

	ctx := context.Background()

	switch cmd {
	case "credentials", "creds":
		err = cmdCredentials(ctx, creds, args)
	case "revoke":
		err = cmdRevoke(ctx, creds, sink, args)
	case "codes":
		err = cmdCodes(ctx, rec, args)
	case "reset":
		err = cmdReset(ctx, rec, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: fold-auth-admin [--db <path>] <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  credentials <user>           List a user's registered passkeys")
	fmt.Println("  revoke <user> <cred-id>      Revoke one passkey (ID as shown by credentials)")
	fmt.Println("  codes <user>                 Show how many recovery codes remain")
	fmt.Println("  codes generate <user>        Replace the user's recovery code set")
	fmt.Println("  reset <user>                 Delete ALL passkeys and recovery codes")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  FOLD_AUTH_CONFIG             Config file path (for the database location)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  fold-auth-admin credentials alice")
	fmt.Println("  fold-auth-admin --db ./fold-auth.db reset alice")
	fmt.Println()
}

// openStore resolves the database path and opens it. An explicit --db path
// wins; otherwise the config file supplies it.
func openStore(dbPath string) (*kv.SQLiteStore, error) {
	if dbPath == "" {
		cfg, err := config.Load(getConfigPath())
		if err != nil {
			return nil, fmt.Errorf("loading config (pass --db to skip): %w", err)
		}
		dbPath = cfg.Database.Path
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database %s: %w", dbPath, err)
	}
	return kv.NewSQLiteStore(dbPath)
}

func getConfigPath() string {
	if envPath := os.Getenv("FOLD_AUTH_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "fold-auth", "config.yaml")
}

func cmdCredentials(ctx context.Context, creds *credentials.Store, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: credentials <user>")
	}
	username := args[0]

	list, err := creds.List(ctx, username)
	if err != nil {
		return fmt.Errorf("listing credentials: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  Passkeys for %s\n", username)
	cyan.Println("  " + strings.Repeat("-", 12+len(username)))

	if len(list) == 0 {
		fmt.Println("  (no passkeys)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tCOUNTER\tCREATED\tLAST USED")
	fmt.Fprintln(w, "  --\t----\t-------\t-------\t---------")
	for _, cred := range list {
		lastUsed := "(never)"
		if !cred.LastUsedAt.IsZero() {
			lastUsed = cred.LastUsedAt.Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\t%d\t%s\t%s\n",
			truncate(credentials.EncodeID(cred.ID), 20),
			truncate(cred.Name, 24),
			cred.SignCount,
			cred.CreatedAt.Format("Jan 02 15:04"),
			lastUsed,
		)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdRevoke(ctx context.Context, creds *credentials.Store, sink audit.Sink, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: revoke <user> <cred-id>")
	}
	username, encoded := args[0], args[1]

	id, err := credentials.DecodeID(encoded)
	if err != nil {
		return fmt.Errorf("parsing credential ID: %w", err)
	}

	if err := creds.Remove(ctx, username, id); err != nil {
		return fmt.Errorf("revoking credential: %w", err)
	}

	sink.Emit(ctx, audit.EventPasskeyRevoked, username, map[string]any{
		"credential_id": encoded,
		"via":           "admin",
	})
	color.Green("✓ Revoked %s for %s\n", truncate(encoded, 20), username)
	return nil
}

func cmdCodes(ctx context.Context, rec *recovery.Service, args []string) error {
	if len(args) == 2 && args[0] == "generate" {
		return cmdCodesGenerate(ctx, rec, args[1])
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: codes <user> | codes generate <user>")
	}
	username := args[0]

	remaining, err := rec.Remaining(ctx, username)
	if err != nil {
		return fmt.Errorf("checking recovery codes: %w", err)
	}

	fmt.Printf("%s has %d of %d recovery codes remaining\n", username, remaining, recovery.CodeCount)
	return nil
}

func cmdCodesGenerate(ctx context.Context, rec *recovery.Service, username string) error {
	yellow := color.New(color.FgYellow)
	yellow.Printf("This replaces any existing recovery codes for %s.\n", username)
	if !confirm() {
		fmt.Println("Aborted.")
		return nil
	}

	codes, err := rec.Generate(ctx, username)
	if err != nil {
		return fmt.Errorf("generating recovery codes: %w", err)
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Recovery codes (shown once, hand them to the user now)")
	cyan.Println("  ------------------------------------------------------")
	for i, code := range codes {
		fmt.Printf("  %2d. %s\n", i+1, code)
	}
	fmt.Println()
	return nil
}

func cmdReset(ctx context.Context, rec *recovery.Service, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: reset <user>")
	}
	username := args[0]

	red := color.New(color.FgRed, color.Bold)
	red.Printf("This deletes ALL passkeys and recovery codes for %s. There is no undo.\n", username)
	if !confirm() {
		fmt.Println("Aborted.")
		return nil
	}

	if err := rec.DisableAll(ctx, username); err != nil {
		return fmt.Errorf("resetting account: %w", err)
	}

	color.Green("✓ Account %s reset at %s\n", username, time.Now().Format(time.RFC3339))
	return nil
}

// confirm reads a y/N answer from stdin.
func confirm() bool {
	fmt.Print("Continue? [y/N] ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
