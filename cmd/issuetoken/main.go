// Command issuetoken prints credentials for calling the ledger HTTP API in development.
//
//	issuetoken --gen-secret
//	issuetoken -s <secret> -o <owner id>
//	issuetoken -s <secret> -d <database uri> --create-owner alice
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/hhledger/internal/db"
	"github.com/nkiryanov/hhledger/internal/repository/postgres"
	"github.com/nkiryanov/hhledger/internal/service/auth/tokenmanager"
)

const SecretKeyBytesLen = 32

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "issuetoken: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var (
		genSecret   bool
		secretKey   string
		ownerID     string
		createOwner string
		databaseDSN string
		ttl         time.Duration
	)

	fs := pflag.NewFlagSet("issuetoken", pflag.ContinueOnError)
	fs.BoolVar(&genSecret, "gen-secret", false, "Print a random secret key and exit")
	fs.StringVarP(&secretKey, "secret-key", "s", os.Getenv("SECRET_KEY"), "Secret key the ledger service signs tokens with")
	fs.StringVarP(&ownerID, "owner", "o", "", "Owner id to issue token for")
	fs.StringVar(&createOwner, "create-owner", "", "Create an active owner with the given name and issue token for it")
	fs.StringVarP(&databaseDSN, "database", "d", os.Getenv("DATABASE_URI"), "Database connection string (for --create-owner)")
	fs.DurationVar(&ttl, "ttl", 24*time.Hour, "Token time to live")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if genSecret {
		b := make([]byte, SecretKeyBytesLen)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("error while generating secret key: %w", err)
		}
		_, err := fmt.Fprintln(out, hex.EncodeToString(b))
		return err
	}

	tm, err := tokenmanager.New(tokenmanager.Config{SecretKey: secretKey, AccessTTL: ttl})
	if err != nil {
		return err
	}

	var id uuid.UUID
	switch {
	case createOwner != "":
		if databaseDSN == "" {
			return errors.New("database uri is required to create owner")
		}
		pool, err := db.ConnectAndMigrate(ctx, databaseDSN)
		if err != nil {
			return err
		}
		defer pool.Close()

		owner, err := postgres.NewStorage(pool).Owner().CreateOwner(ctx, createOwner, "")
		if err != nil {
			return fmt.Errorf("error while creating owner: %w", err)
		}
		id = owner.ID
		if _, err := fmt.Fprintf(out, "owner: %s\n", id); err != nil {
			return err
		}
	case ownerID != "":
		if id, err = uuid.Parse(ownerID); err != nil {
			return fmt.Errorf("invalid owner id: %w", err)
		}
	default:
		return errors.New("either --owner or --create-owner is required")
	}

	token, err := tm.Issue(id)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "Bearer %s\n", token.Value)
	return err
}
