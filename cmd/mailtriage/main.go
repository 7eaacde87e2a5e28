package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ajramos/mailtriage/internal/config"
	"github.com/ajramos/mailtriage/internal/docstore"
	"github.com/ajramos/mailtriage/internal/gmailapi"
	"github.com/ajramos/mailtriage/internal/localstore"
	"github.com/ajramos/mailtriage/internal/metadata"
	"github.com/ajramos/mailtriage/internal/models"
	"github.com/ajramos/mailtriage/internal/thread"
	"github.com/ajramos/mailtriage/pkg/auth"
)

func main() {
	configPathFlag := flag.String("config", "", "Path to JSON configuration file (default: ~/.config/mailtriage/config.json)")
	credPathFlag := flag.String("credentials", "", "Path to OAuth client credentials JSON (default: ~/.config/mailtriage/credentials.json)")
	listFlag := flag.String("list", "triage", "List to print: triage or todo")
	syncFlag := flag.Bool("sync", true, "Reconcile thread state against Gmail before printing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s                        # Sync and print the triage list\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --list todo            # Sync and print the todo list\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --sync=false           # Print from local state only\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config custom.json   # Use custom configuration\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  MAILTRIAGE_CONFIG       Override default config file path\n")
		fmt.Fprintf(os.Stderr, "  MAILTRIAGE_CREDENTIALS  Override default credentials file path\n")
	}

	flag.Parse()

	configPath := getConfigPath(*configPathFlag)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	credPath := getCredentialsPath(*credPathFlag, cfg.Credentials)
	if credPath == "" {
		log.Fatal("Gmail credentials file is required. Provide it via --credentials or config file.")
	}
	if _, err := os.Stat(credPath); err != nil {
		log.Fatalf("Credentials file not found at %s. Download client credentials from Google Cloud Console and place it there.", credPath)
	}

	ctx := context.Background()

	service, err := auth.NewGmailService(ctx, credPath, cfg.Token)
	if err != nil {
		log.Fatalf("Could not initialize Gmail service: %v", err)
	}
	client := gmailapi.NewClient(service)

	docs, err := docstore.Open(ctx, cfg.DocumentDB)
	if err != nil {
		log.Fatalf("Could not open document store: %v", err)
	}
	defer func() { _ = docs.Close() }()

	kv, err := localstore.OpenKV(ctx, cfg.MessageDB)
	if err != nil {
		log.Fatalf("Could not open message cache: %v", err)
	}
	defer func() { _ = kv.Close() }()
	messageStore := localstore.NewMessageStore(kv, log)

	if err := messageStore.GC(ctx); err != nil {
		log.WithError(err).Warn("message cache garbage collection failed")
	}

	metaStore := metadata.NewStore(docs)
	queueNames := models.NewQueueNames(docs)
	if err := queueNames.Fetch(ctx); err != nil {
		log.Fatalf("Could not load queue names: %v", err)
	}

	cache := thread.NewCache(thread.Deps{
		Store:    metaStore,
		Provider: client,
		Labels:   queueNames,
		Messages: messageStore,
		Log:      log,
	})

	queues, err := config.LoadQueueSettings(cfg.QueuesFile)
	if err != nil {
		log.Fatalf("Could not load queue settings: %v", err)
	}

	deps := models.ModelDeps{Docs: docs, Store: metaStore, Cache: cache, Log: log}

	var model interface {
		Rebuild(ctx context.Context) error
		GetThreads() []*thread.Thread
		GroupNames() []string
	}
	var groupName func(t *thread.Thread) string

	switch *listFlag {
	case "triage":
		m := models.NewTriageModel(deps, cfg, queues)
		model = m
		groupName = m.GroupName
	case "todo":
		m, err := models.NewTodoModel(ctx, deps, cfg, queues, nil)
		if err != nil {
			log.Fatalf("Could not build todo list: %v", err)
		}
		model = m
		groupName = m.GroupName
	default:
		log.Fatalf("Unknown list %q, expected triage or todo", *listFlag)
	}

	if err := model.Rebuild(ctx); err != nil {
		log.Fatalf("Could not build %s list: %v", *listFlag, err)
	}

	threads := model.GetThreads()
	if *syncFlag {
		for _, t := range threads {
			if err := t.Update(ctx); err != nil {
				log.WithError(err).WithField("thread", t.ID()).Warn("thread sync failed")
			}
		}
		if err := model.Rebuild(ctx); err != nil {
			log.Fatalf("Could not rebuild %s list: %v", *listFlag, err)
		}
		threads = model.GetThreads()
	}

	printList(threads, groupName)
}

func printList(threads []*thread.Thread, groupName func(t *thread.Thread) string) {
	lastGroup := ""
	for _, t := range threads {
		group := groupName(t)
		if group != lastGroup {
			fmt.Printf("%s\n", group)
			lastGroup = group
		}
		marker := " "
		if t.IsUnread() {
			marker = "*"
		}
		fmt.Printf("  %s %s  %s\n", marker, t.ID(), t.Date().Format("2006-01-02 15:04"))
	}
}

// getConfigPath returns the configuration file path using the following priority:
// 1. CLI flag
// 2. Environment variable MAILTRIAGE_CONFIG
// 3. Default path ~/.config/mailtriage/config.json
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return config.DefaultConfigPath()
}

// getCredentialsPath returns the credentials file path using the following priority:
// 1. CLI flag
// 2. Environment variable MAILTRIAGE_CREDENTIALS
// 3. Config file setting
func getCredentialsPath(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("MAILTRIAGE_CREDENTIALS"); envPath != "" {
		return expandPath(envPath)
	}
	return expandPath(configValue)
}

// expandPath expands ~ to the user's home directory
func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return home
	}

	return filepath.Join(home, path[2:])
}
