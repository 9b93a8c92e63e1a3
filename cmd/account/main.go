// Package main provides a CLI tool for managing player accounts in the
// postgres credential backend.
//
// Usage:
//
//	account create -username kirill -nickname Kirill -password secret
//	account passwd -username kirill -password newsecret
//	account nick   -username kirill -nickname Kir
//	account show   -username kirill
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cory-johannsen/floe/internal/config"
	"github.com/cory-johannsen/floe/internal/storage/postgres"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: account <create|passwd|nick|show> [flags]")
	os.Exit(2)
}

func main() {
	start := time.Now()

	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "configs/dev.yaml", "path to configuration file")
	username := fs.String("username", "", "account username (required)")
	nickname := fs.String("nickname", "", "display nickname")
	password := fs.String("password", "", "account password")
	_ = fs.Parse(os.Args[2:])

	if *username == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewAccountRepository(pool.DB())

	switch cmd {
	case "create":
		if *password == "" {
			log.Fatal("create requires -password")
		}
		nick := *nickname
		if nick == "" {
			nick = *username
		}
		acct, err := repo.Create(ctx, *username, nick, *password)
		if err != nil {
			log.Fatalf("creating account: %v", err)
		}
		fmt.Fprintf(os.Stdout, "created %s (#%d) [%s]\n", acct.Username, acct.ID, time.Since(start))

	case "passwd":
		if *password == "" {
			log.Fatal("passwd requires -password")
		}
		acct := lookup(ctx, repo, *username)
		if err := repo.SetPassword(ctx, acct.ID, *password); err != nil {
			log.Fatalf("setting password: %v", err)
		}
		fmt.Fprintf(os.Stdout, "password updated for %s (#%d) [%s]\n", acct.Username, acct.ID, time.Since(start))

	case "nick":
		if *nickname == "" {
			log.Fatal("nick requires -nickname")
		}
		acct := lookup(ctx, repo, *username)
		if err := repo.SetNickname(ctx, acct.ID, *nickname); err != nil {
			log.Fatalf("setting nickname: %v", err)
		}
		fmt.Fprintf(os.Stdout, "nickname for %s (#%d): %s -> %s [%s]\n",
			acct.Username, acct.ID, acct.Nickname, *nickname, time.Since(start))

	case "show":
		acct := lookup(ctx, repo, *username)
		fmt.Fprintf(os.Stdout, "#%d %s nickname=%q created=%s\n",
			acct.ID, acct.Username, acct.Nickname, acct.CreatedAt.Format(time.RFC3339))

	default:
		usage()
	}
}

func lookup(ctx context.Context, repo *postgres.AccountRepository, username string) postgres.Account {
	acct, err := repo.GetByUsername(ctx, username)
	if err != nil {
		log.Fatalf("looking up account %q: %v", username, err)
	}
	return acct
}
