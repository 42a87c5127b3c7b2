// panfm-migrate runs the embedded TimescaleDB schema migrations standalone,
// for pipelines that separate schema changes from deploys. The scheduler
// applies the same migrations automatically at startup, so most installs
// never need this tool.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/panfm/panfm/pkg/config"
	panlog "github.com/panfm/panfm/pkg/log"
	"github.com/panfm/panfm/pkg/store/migrate"
)

var (
	configPath = flag.String("config", "", "Optional YAML config file overriding environment defaults")
	logJSON    = flag.Bool("log-json", false, "Emit JSON logs instead of console output")
)

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage: panfm-migrate [flags] [up|down|status]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Runs the embedded schema migrations against TimescaleDB. Connection")
	fmt.Fprintln(out, "parameters come from the TIMESCALE_* environment variables. The default")
	fmt.Fprintln(out, "command is up.")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Flags:")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	log.SetFlags(log.LstdFlags)
	log.Println("PANfm Schema Migration Tool")
	log.Println("===========================")

	cfg := config.Load()
	if *configPath != "" {
		if err := cfg.ApplyFile(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	// Goose output is routed through the structured logger.
	panlog.Init(panlog.Config{Level: panlog.InfoLevel, JSONOutput: *logJSON})

	log.Printf("Database: %s:%d/%s", cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	log.Printf("Command: %s", command)

	db, err := migrate.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	switch command {
	case "up":
		err = migrate.Up(db)
	case "down":
		err = migrate.Down(db)
	case "status":
		err = migrate.Status(db)
	default:
		log.Fatalf("Unknown command %q (want up, down or status)", command)
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if command != "status" {
		log.Println("✓ Done")
	}
}
