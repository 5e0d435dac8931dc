// Package main is the entry point for the selfmusicd daemon.
// selfmusicd plays songs from a Self-Music server with a local cache,
// publishes playback to the OS media session and is controlled by UI
// clients over a unix socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

// Build flags
var version = ""
var commit = ""
var date = ""

func main() {
	// Create signal based context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := newCommand()
	if err := cmd.ParseAndRun(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	configDir  string
	socketPath string
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.configDir, "config-dir", "", "configuration directory (default: <user config dir>/selfmusic)")
	fs.StringVar(&g.socketPath, "socket", "", "IPC socket path (default: /tmp/selfmusicd-<uid>.sock)")
}

func (g *globalFlags) resolve() error {
	if g.configDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("failed to get config directory: %w", err)
		}
		g.configDir = filepath.Join(base, "selfmusic")
	}
	if g.socketPath == "" {
		g.socketPath = fmt.Sprintf("/tmp/selfmusicd-%d.sock", os.Getuid())
	}
	return nil
}

func options() []ff.Option {
	return []ff.Option{
		ff.WithEnvVarPrefix("SELFMUSIC"),
	}
}

func newCommand() *ffcli.Command {
	fs := flag.NewFlagSet("selfmusicd", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "selfmusicd [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(),
			newRunCommand(),
			newCtlCommand(),
			newCacheCommand(),
		},
	}
}

func newVersionCommand() *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "selfmusicd version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func newRunCommand() *ffcli.Command {
	cmd := "run"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)

	g := &globalFlags{}
	g.register(fs)
	var verbose bool
	fs.BoolVar(&verbose, "verbose", false, "enable verbose logging")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("selfmusicd %s [flags]", cmd),
		ShortHelp:  "run the playback daemon",
		Options:    options(),
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := g.resolve(); err != nil {
				return err
			}
			if verbose {
				log.Printf("selfmusicd version %s starting...", version)
			}
			return run(ctx, g)
		},
	}
}

func newCtlCommand() *ffcli.Command {
	cmd := "ctl"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)

	g := &globalFlags{}
	g.register(fs)

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("selfmusicd %s [flags] <command> [json data]", cmd),
		ShortHelp:  "send a command to a running daemon",
		Options:    options(),
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return flag.ErrHelp
			}
			if err := g.resolve(); err != nil {
				return err
			}
			var data string
			if len(args) > 1 {
				data = strings.Join(args[1:], " ")
			}
			return ctl(ctx, g.socketPath, args[0], data, os.Stdout)
		},
	}
}

func newCacheCommand() *ffcli.Command {
	cmd := "cache"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)

	g := &globalFlags{}
	g.register(fs)

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("selfmusicd %s [flags] stats|clear", cmd),
		ShortHelp:  "inspect or clear the local media cache",
		Options:    options(),
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return flag.ErrHelp
			}
			if err := g.resolve(); err != nil {
				return err
			}
			return cacheAdmin(ctx, g.configDir, args[0], os.Stdout)
		},
	}
}
