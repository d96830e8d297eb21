// dunlin-admin provisions accounts and imports messages directly against
// the storage backend, bypassing the POP3 listener.
//
// Usage:
//
//	dunlin-admin [-config config.toml] create-account -username alice@example.com -password secret [-plaintext]
//	dunlin-admin [-config config.toml] import-message -username alice@example.com -file message.eml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/dunlinmail/dunlin/backend"
	"github.com/dunlinmail/dunlin/cache"
	"github.com/dunlinmail/dunlin/config"
	"github.com/dunlinmail/dunlin/db"
	"github.com/dunlinmail/dunlin/logger"
	"github.com/dunlinmail/dunlin/storage"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	cfg := config.NewDefaultConfig()
	if err := config.Load(*configPath, &cfg); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg.Logging.Output = "stderr"
	if _, err := logger.Initialize(cfg.Logging); err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}

	ctx := context.Background()

	database, err := db.NewDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	switch args[0] {
	case "create-account":
		createAccount(ctx, database, args[1:])
	case "import-message":
		importMessage(ctx, &cfg, database, args[1:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dunlin-admin [-config path] <create-account|import-message> [options]")
	os.Exit(2)
}

func createAccount(ctx context.Context, database *db.Database, args []string) {
	fs := flag.NewFlagSet("create-account", flag.ExitOnError)
	username := fs.String("username", "", "Mailbox address to create")
	password := fs.String("password", "", "Password for the mailbox")
	plaintext := fs.Bool("plaintext", false, "Store the password unhashed so APOP clients can authenticate")
	fs.Parse(args)

	if *username == "" || *password == "" {
		log.Fatal("create-account requires -username and -password")
	}

	stored := *password
	if !*plaintext {
		hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("failed to hash password: %v", err)
		}
		stored = string(hash)
	}

	id, err := database.CreateAccount(ctx, *username, stored)
	if err != nil {
		log.Fatalf("failed to create account: %v", err)
	}
	fmt.Printf("created account %s (id %d)\n", *username, id)
	if *plaintext {
		fmt.Println("warning: password stored in plaintext to support APOP")
	}
}

func importMessage(ctx context.Context, cfg *config.Config, database *db.Database, args []string) {
	fs := flag.NewFlagSet("import-message", flag.ExitOnError)
	username := fs.String("username", "", "Mailbox address to deliver to")
	file := fs.String("file", "", "Path to the raw message file")
	fs.Parse(args)

	if *username == "" || *file == "" {
		log.Fatal("import-message requires -username and -file")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("failed to read message file: %v", err)
	}

	s3, err := storage.New(ctx, cfg.S3)
	if err != nil {
		log.Fatalf("failed to initialize object storage: %v", err)
	}
	bodyCache, err := cache.New(cfg.LocalCache.Path,
		cfg.LocalCache.CapacityMB<<20, cfg.LocalCache.MaxObjectSizeMB<<20)
	if err != nil {
		log.Fatalf("failed to initialize local cache: %v", err)
	}
	defer bodyCache.Close()

	be := backend.New(database, s3, bodyCache)
	id, err := be.ImportMessage(ctx, *username, raw)
	if err != nil {
		log.Fatalf("failed to import message: %v", err)
	}
	fmt.Printf("imported message %d (%d octets) for %s\n", id, len(raw), *username)
}
