package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gridlume/gridlume/modules/control/infrastructure/persistence"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: dbtool <schema-apply|seed-demo|ledger-smoke> [args]")
	}

	switch os.Args[1] {
	case "schema-apply":
		schemaApply(os.Args[2:])
	case "seed-demo":
		seedDemo(os.Args[2:])
	case "ledger-smoke":
		ledgerSmoke(os.Args[2:])
	default:
		fatalf("unknown subcommand: %s", os.Args[1])
	}
}

func schemaApply(args []string) {
	fs := flag.NewFlagSet("schema-apply", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url, file string
	fs.StringVar(&url, "url", "", "postgres connection string")
	fs.StringVar(&file, "file", "db/schema.sql", "schema file to apply")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}

	sql, err := os.ReadFile(file)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, string(sql)); err != nil {
		fatal(err)
	}
	fmt.Println("schema applied")
}

// seedDemo creates a project with one asset and an API client holding every
// scope. Meant for local runs only; the key is printed once and stored hashed.
func seedDemo(args []string) {
	fs := flag.NewFlagSet("seed-demo", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url, code, key string
	fs.StringVar(&url, "url", "", "postgres connection string")
	fs.StringVar(&code, "code", "demo", "project code")
	fs.StringVar(&key, "key", "", "API key to register (required)")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}
	if key == "" {
		fatalf("missing --key")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	tx, err := conn.Begin(ctx)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var projectID string
	if err := tx.QueryRow(ctx, `
	INSERT INTO control.project (code, name) VALUES ($1, $2)
	ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
	RETURNING project_id::text
	`, strings.ToLower(code), "Demo project "+code).Scan(&projectID); err != nil {
		fatal(err)
	}

	if _, err := tx.Exec(ctx, `
	INSERT INTO control.asset (project_id, external_id, name, control_mode)
	VALUES ($1::uuid, 'lum-001', 'Demo luminaire', 'optimize')
	ON CONFLICT (project_id, external_id) DO NOTHING
	`, projectID); err != nil {
		fatal(err)
	}

	allScopes := []string{
		"asset:command", "asset:override", "asset:write",
		"admin:killswitch", "admin:policy:read", "admin:policy:write", "admin:audit:read",
	}
	if _, err := tx.Exec(ctx, `
	INSERT INTO control.api_client (project_id, name, api_key_sha256, scopes)
	VALUES ($1::uuid, 'demo-client', $2, $3)
	ON CONFLICT (api_key_sha256) DO UPDATE SET scopes = EXCLUDED.scopes
	`, projectID, persistence.HashAPIKey(key), allScopes); err != nil {
		fatal(err)
	}

	if err := tx.Commit(ctx); err != nil {
		fatal(err)
	}
	fmt.Printf("seeded project %s (%s)\n", code, projectID)
}

// ledgerSmoke verifies the exactly-once property of the command ledger against
// a live database: two identical reservations, one winner, one replay. The
// whole run happens inside a rolled-back transaction.
func ledgerSmoke(args []string) {
	fs := flag.NewFlagSet("ledger-smoke", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", "", "postgres connection string")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	tx, err := conn.Begin(ctx)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var projectID, assetID string
	if err := tx.QueryRow(ctx, `
	INSERT INTO control.project (code, name) VALUES ('ledger-smoke', 'ledger smoke')
	RETURNING project_id::text
	`).Scan(&projectID); err != nil {
		fatal(err)
	}
	if err := tx.QueryRow(ctx, `
	INSERT INTO control.asset (project_id, external_id, name, control_mode)
	VALUES ($1::uuid, 'smoke-asset', '', 'optimize')
	RETURNING asset_id::text
	`, projectID).Scan(&assetID); err != nil {
		fatal(err)
	}

	reserve := func() int64 {
		tag, err := tx.Exec(ctx, `
		INSERT INTO control.command_ledger (asset_id, idempotency_key, payload_fingerprint)
		VALUES ($1::uuid, 'smoke-key', 'fp-1')
		ON CONFLICT (asset_id, idempotency_key) DO NOTHING
		`, assetID)
		if err != nil {
			fatal(err)
		}
		return tag.RowsAffected()
	}

	if n := reserve(); n != 1 {
		fatalf("first reservation: expected 1 row, got %d", n)
	}
	if n := reserve(); n != 0 {
		fatalf("second reservation: expected 0 rows, got %d", n)
	}

	if _, err := tx.Exec(ctx, `
	UPDATE control.command_ledger SET decision = '{"outcome":"allowed"}'::jsonb
	WHERE asset_id = $1::uuid AND idempotency_key = 'smoke-key'
	`, assetID); err != nil {
		fatal(err)
	}

	var decision string
	if err := tx.QueryRow(ctx, `
	SELECT decision->>'outcome' FROM control.command_ledger
	WHERE asset_id = $1::uuid AND idempotency_key = 'smoke-key'
	`, assetID).Scan(&decision); err != nil {
		fatal(err)
	}
	if decision != "allowed" {
		fatalf("expected cached outcome allowed, got %q", decision)
	}

	fmt.Println("ledger smoke passed")
}

func fatal(err error) {
	fatalf("%v", err)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "dbtool: "+format+"\n", args...)
	os.Exit(1)
}
