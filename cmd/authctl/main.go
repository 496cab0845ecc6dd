// Command authctl performs administrative credential tasks.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"tenantauth.org/internal/audit"
	"tenantauth.org/internal/auth"
	"tenantauth.org/internal/obs"
)

const usage = `usage: authctl <command> [flags]

commands:
  hash          read a password from stdin and print its bcrypt hash
  unlock        clear lock state and failed-login count for -user (scoped by -tenant)
  set-password  read a password from stdin and store it for -user`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "authctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(cmd string, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	cost := fs.Int("cost", auth.DefaultCost, "bcrypt cost")
	dsn := fs.String("dsn", os.Getenv("TENANTAUTH_DB_DSN"), "PostgreSQL DSN")
	user := fs.String("user", "", "target user id")
	tenant := fs.String("tenant", "", "restrict unlock to this tenant id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hasher, err := auth.NewBcryptHasher(*cost)
	if err != nil {
		return err
	}

	switch cmd {
	case "hash":
		pw, err := readPassword(stdin)
		if err != nil {
			return err
		}
		hash, err := hasher.Hash(pw)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, hash)
		return err

	case "unlock", "set-password":
		if strings.TrimSpace(*user) == "" {
			return errors.New("-user is required")
		}
		if *dsn == "" {
			return errors.New("missing DSN: provide via -dsn or TENANTAUTH_DB_DSN")
		}
		db, err := sql.Open("pgx", *dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		authn, err := auth.NewAuthenticator(auth.NewPGStore(db), hasher, auth.WithLogger(obs.Logger()))
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return apply(ctx, cmd, authn, strings.TrimSpace(*tenant), *user, stdin, stdout)

	default:
		return fmt.Errorf("unknown command\n%s", usage)
	}
}

type credentialAdmin interface {
	ChangePassword(ctx context.Context, userID, newPassword string) error
	Unlock(ctx context.Context, tenantID, userID string) error
}

func apply(ctx context.Context, cmd string, admin credentialAdmin, tenant, user string, stdin io.Reader, stdout io.Writer) error {
	switch cmd {
	case "unlock":
		if err := admin.Unlock(ctx, tenant, user); err != nil {
			return err
		}
		_ = audit.LogEvent(ctx, audit.EventAccountUnlocked,
			zap.String("target_user_id", user), zap.String("tenant_id", tenant), zap.String("channel", "authctl"))
	case "set-password":
		pw, err := readPassword(stdin)
		if err != nil {
			return err
		}
		if err := admin.ChangePassword(ctx, user, pw); err != nil {
			return err
		}
		_ = audit.LogEvent(ctx, audit.EventPasswordChanged,
			zap.String("target_user_id", user), zap.String("channel", "authctl"))
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	_, err := fmt.Fprintf(stdout, "%s: ok\n", user)
	return err
}

// readPassword takes the first line of r, without the line terminator.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password on stdin")
	}
	return pw, nil
}
