package main

import (
	"fmt"
	"log"
	"os"

	"github.com/coveworks/memberd/config"
	"github.com/coveworks/memberd/internal/database"
	"github.com/coveworks/memberd/internal/secrets"
	"github.com/coveworks/memberd/internal/service"
)

// Operator tool for the encrypted secret store: API keys, the maglock key,
// plan id overrides and the gift code secret all live there rather than in
// config files.
func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	store, err := secrets.NewStore(db, cfg.Secrets.MasterKey)
	if err != nil {
		log.Fatalf("Failed to open secret store: %v", err)
	}

	switch os.Args[1] {
	case "set":
		requireArgs(4)
		if err := store.Put(os.Args[2], os.Args[3]); err != nil {
			log.Fatalf("set failed: %v", err)
		}
	case "get":
		requireArgs(3)
		value, err := store.Get(os.Args[2])
		if err != nil {
			log.Fatalf("get failed: %v", err)
		}
		fmt.Println(value)
	case "list":
		names, err := store.List()
		if err != nil {
			log.Fatalf("list failed: %v", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
	case "delete":
		requireArgs(3)
		if err := store.Delete(os.Args[2]); err != nil {
			log.Fatalf("delete failed: %v", err)
		}
	case "gen-code":
		// Mints a gift code for a four-digit serial, for the printed cards.
		requireArgs(3)
		serial := os.Args[2]
		if len(serial) != 4 {
			log.Fatal("serial must be 4 digits")
		}
		secret, err := store.Get(secrets.KeyGiftCode)
		if err != nil {
			log.Fatalf("gift code secret: %v", err)
		}
		fmt.Println(service.GenerateGiftCode(serial, secret))
	default:
		usage()
	}
}

func requireArgs(n int) {
	if len(os.Args) < n {
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: secrets <command>

  set <name> <value>   store a secret
  get <name>           print a secret
  list                 list secret names
  delete <name>        remove a secret
  gen-code <serial>    mint a gift code for a 4-digit serial`)
	os.Exit(2)
}
