package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/lithammer/dedent"
	"github.com/raine/sportdesk/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var usageHeader = strings.TrimLeft(dedent.Dedent(`
	Usage: sportdesk [--debug] <command> [args]

	Configuration is read from the environment and from
	$XDG_CONFIG_HOME/sportdesk/config.env.

	Commands:
`), "\n")

func usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprint(os.Stderr, usageHeader)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, commands[name].summary)
	}
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = usage
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	config.LoadEnvFile()
	if needsSetup() {
		if !isInteractiveTerminal() {
			log.Fatal().Msg("missing required config: API_BASE_URL")
		}
		if !runSetupWizard() {
			os.Exit(1)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug || cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}

	err = cmd.run(ctx, a, flag.Args()[1:], os.Stdout)
	a.Close()

	switch {
	case err == nil:
	case errors.Is(err, errAborted):
		os.Exit(1)
	case errors.Is(err, errNotSignedIn):
		fmt.Fprintln(os.Stderr, errorStyle.Render("Not signed in.")+" Run: sportdesk login")
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}
