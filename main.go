package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"

	"github.com/dnsjump/dnsjump/api"
	"github.com/dnsjump/dnsjump/dnsjump"
	"github.com/dnsjump/dnsjump/probe"
	"github.com/dnsjump/dnsjump/profile"
	"github.com/dnsjump/dnsjump/sysdns"
)

var version = "version_replaceme"

func main() {
	// First argument may be a subcommand; everything after it is split
	// into positionals and flags
	command := "help"
	rest := os.Args[1:]
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		command = rest[0]
		rest = rest[1:]
	} else if len(rest) > 0 {
		// Bare flags (-version, -show-config) without a subcommand
		command = ""
	}

	positional, flags := splitArgs(rest)

	config, showVersion, showConfig, err := LoadConfig(flags)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if showVersion {
		fmt.Println("dnsjump version " + version)
		return
	}
	if showConfig {
		config.ShowConfig()
		return
	}

	setupLogging(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runCommand(ctx, command, positional, config); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

// splitArgs separates leading positional arguments from the flags that
// follow them, so "add Name 1.1.1.1 1.0.0.1 -log-level DEBUG" works.
func splitArgs(args []string) (positional, flags []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return args[:i], args[i:]
		}
	}
	return args, nil
}

func setupLogging(level string) {
	log.SetHandler(cli.Default)
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		log.Warnf("unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func newApp(config *Config) *dnsjump.App {
	store := profile.NewStore(config.ProfilesPath)
	provider := sysdns.Detect()
	log.Debugf("using DNS provider %s", provider.Name())
	return dnsjump.New(store, provider)
}

func runCommand(ctx context.Context, command string, args []string, config *Config) error {
	switch command {
	case "run":
		return cmdRun(ctx, config)
	case "list":
		return cmdList(config)
	case "add":
		return cmdAdd(config, args)
	case "remove":
		return cmdRemove(config, args)
	case "test":
		return cmdTest(ctx, config)
	case "best":
		return cmdBest(ctx, config)
	case "sort":
		return cmdSort(config, args)
	case "activate":
		return cmdActivate(ctx, config, args)
	case "reset":
		return cmdReset(ctx, config)
	case "status":
		return cmdStatus(ctx, config)
	case "help", "":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage() {
	fmt.Println("dnsjump - DNS profile testing and activation")
	fmt.Println("\nCommands:")
	fmt.Println("  run                      Run the daemon with the HTTP API")
	fmt.Println("  list                     List DNS profiles")
	fmt.Println("  add <name> <ip> <ip>...  Add a profile (at least two servers)")
	fmt.Println("  remove <index>           Delete a profile")
	fmt.Println("  test                     Measure resolution latency for every profile")
	fmt.Println("  best                     Test everything and report the fastest profile")
	fmt.Println("  sort [desc]              Reorder profiles by measured latency")
	fmt.Println("  activate <index|ip...>   Make a profile the system DNS configuration")
	fmt.Println("  reset                    Restore automatic (DHCP) DNS")
	fmt.Println("  status                   Show the current system DNS state")
	fmt.Println("\nFlags (after the command):")
	fmt.Println("  -profiles <path>   Profiles file location")
	fmt.Println("  -log-level <lvl>   DEBUG, INFO, WARN, ERROR, FATAL")
	fmt.Println("  -http-addr <addr>  API listen address (run)")
	fmt.Println("  -socket <path>     API Unix socket or named pipe (run)")
	fmt.Println("  -show-config       Show configuration sources and exit")
	fmt.Println("  -version           Print the version")
}

// cmdRun starts the API server and blocks until a termination signal
func cmdRun(ctx context.Context, config *Config) error {
	log.Info("dnsjump version " + version)

	if err := SaveConfig(config); err != nil {
		log.Warnf("failed to save config: %v", err)
	}

	app := newApp(config)

	var server *api.API
	if config.SocketPath != "" {
		server = api.NewAPISocket(config.SocketPath, app)
	} else {
		server = api.NewAPI(config.HTTPAddr, app)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up...")
	return server.Stop()
}

func cmdList(config *Config) error {
	app := newApp(config)
	printProfiles(app.Profiles())
	return nil
}

func cmdAdd(config *Config, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: add <name> <ip> <ip>...")
	}
	app := newApp(config)
	p, err := app.AddProfile(args[0], args[1:])
	if err != nil {
		return err
	}
	fmt.Printf("added %q (%s)\n", p.Name, strings.Join(p.Servers, ", "))
	return nil
}

func cmdRemove(config *Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: remove <index>")
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("index must be a number: %v", err)
	}
	return newApp(config).RemoveProfile(index)
}

func cmdTest(ctx context.Context, config *Config) error {
	app := newApp(config)
	if _, err := runTests(ctx, app); err != nil {
		return err
	}
	printProfiles(app.Profiles())
	return nil
}

func cmdBest(ctx context.Context, config *Config) error {
	app := newApp(config)
	summary, err := runTests(ctx, app)
	if err != nil {
		return err
	}
	best, ok := probe.PickBest(summary)
	if !ok {
		return probe.ErrNoValidLatency
	}
	p := app.Profiles()[best]
	fmt.Printf("fastest: [%d] %s (%.1f ms)\n", best, p.Name, p.LatencyMs)
	return nil
}

func cmdSort(config *Config, args []string) error {
	ascending := true
	if len(args) == 1 && args[0] == "desc" {
		ascending = false
	}
	app := newApp(config)
	sorted, err := app.SortProfiles(ascending)
	if err != nil {
		return err
	}
	printProfiles(sorted)
	return nil
}

func cmdActivate(ctx context.Context, config *Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: activate <index> or activate <ip> <ip>...")
	}
	app := newApp(config)

	var conn *sysdns.Connection
	var err error
	if index, convErr := strconv.Atoi(args[0]); convErr == nil && len(args) == 1 {
		conn, err = app.ActivateProfile(ctx, index)
	} else {
		conn, err = app.ActivateServers(ctx, args)
	}
	if err != nil {
		return err
	}
	fmt.Printf("DNS applied to %q (%s)\n", conn.Name, conn.Device)
	return nil
}

func cmdReset(ctx context.Context, config *Config) error {
	conn, err := newApp(config).Reset(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%q reset to automatic DNS\n", conn.Name)
	return nil
}

func cmdStatus(ctx context.Context, config *Config) error {
	app := newApp(config)
	st := app.CurrentStatus(ctx)

	fmt.Printf("provider:   %s\n", st.Provider)
	if st.Connection != nil {
		fmt.Printf("connection: %s (%s)\n", st.Connection.Name, st.Connection.Device)
	} else {
		fmt.Println("connection: none")
	}
	fmt.Printf("dns:        %s\n", st.EffectiveServers)
	return nil
}

// runTests probes every profile, streaming per-profile progress to the
// terminal as measurements arrive.
func runTests(ctx context.Context, app *dnsjump.App) (probe.Summary, error) {
	events, cancel := app.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		profiles := app.Profiles()
		for ev := range events {
			if ev.Type != dnsjump.EventProbeProgress {
				continue
			}
			name := ""
			if ev.Index >= 0 && ev.Index < len(profiles) {
				name = profiles[ev.Index].Name
			}
			if ev.LatencyMs > 0 {
				fmt.Printf("  %-24s %8.1f ms\n", name, ev.LatencyMs)
			} else {
				fmt.Printf("  %-24s %8s\n", name, "no answer")
			}
		}
	}()

	summary, err := app.RunTests(ctx)
	cancel()
	<-done
	return summary, err
}

func printProfiles(profiles []profile.Profile) {
	if len(profiles) == 0 {
		fmt.Println("no profiles")
		return
	}
	for i, p := range profiles {
		latency := "-"
		if p.LatencyMs > 0 {
			latency = fmt.Sprintf("%.1f ms", p.LatencyMs)
		}
		fmt.Printf("[%d] %-24s %-10s %s\n", i, p.Name, latency, strings.Join(p.Servers, ", "))
	}
}
