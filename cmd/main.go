// agentlane is the execution gateway server binary.
//
// Subcommands: serve (default) runs the HTTP gateway, keygen provisions a
// caller and prints its API key once, version prints the build version.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/agentlane/execution-gateway/internal/config"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	// Secrets referenced from the config file (${VAR}) may live in .env.
	_ = godotenv.Load()

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		runServe(args)
	case "keygen":
		runKeygen(args)
	case "version":
		fmt.Println("agentlane " + version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want serve, keygen or version)\n", cmd)
		os.Exit(2)
	}
}

// initLogging configures the global zerolog logger from configuration.
// Format "auto" picks console output on a terminal and JSON otherwise.
func initLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := cfg.Format == "console" ||
		(cfg.Format == "auto" && term.IsTerminal(int(os.Stderr.Fd())))
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func fatal(err error, msg string) {
	log.Fatal().Err(err).Msg(msg)
}
