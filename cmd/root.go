package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meko-christian/mbwatch/internal/channel"
	"github.com/meko-christian/mbwatch/internal/config"
	"github.com/meko-christian/mbwatch/internal/imap"
	"github.com/meko-christian/mbwatch/internal/watch"
)

// ExitError carries the process exit code for main: 2 for a command-line
// error, 1 for everything else fatal.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

type options struct {
	command     string
	all         bool
	list        bool
	configPath  string
	debug       bool
	verbose     bool
	quiet       bool
	showVersion bool
}

var opts options

var rootCmd = &cobra.Command{
	Use:           "mbwatch [flags] {channel[:box,...]|group ...|-a}",
	Short:         "Watch IMAP mailboxes and Maildirs and run a synchronizer on changes",
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// Setup logger after flag parsing
		setupLogger()
	},
	RunE: run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&opts.command, "command", "e", "mbsync", "syncing command")
	f.BoolVarP(&opts.all, "all", "a", false, "operate on all defined channels")
	f.BoolVarP(&opts.list, "list", "l", false, "list mailboxes instead of syncing them")
	f.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "read an alternate config file")
	f.BoolVarP(&opts.debug, "debug", "D", false, "print debugging messages")
	f.BoolVarP(&opts.verbose, "verbose", "V", false, "verbose mode (display network traffic)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "print only errors")
	f.BoolVarP(&opts.showVersion, "version", "v", false, "display version")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: 2, Err: err}
	})
}

func Execute() error {
	return rootCmd.Execute()
}

func setupLogger() {
	level := slog.LevelInfo
	switch {
	case opts.debug || opts.verbose:
		level = slog.LevelDebug
	case opts.quiet:
		level = slog.LevelError
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	slog.SetDefault(slog.New(handler))
}

func run(_ *cobra.Command, args []string) error {
	if opts.showVersion {
		fmt.Printf("mbwatch %s\n", Version)
		return nil
	}
	if len(args) == 0 && !opts.all {
		return fmt.Errorf("no channel specified, try 'mbwatch --help'")
	}

	cfg, err := config.Read(opts.configPath)
	if err != nil {
		return err
	}
	channels, err := cfg.Select(args, opts.all)
	if err != nil {
		return err
	}
	slog.Debug("channels selected", "count", len(channels))

	stores := channel.CollectStores(channels)
	if err := resolvePasswords(stores); err != nil {
		return err
	}

	pool := imap.NewPool(opts.verbose)
	defer pool.CloseAll()

	if err := channel.Enumerate(stores, pool); err != nil {
		return err
	}

	if opts.list {
		listMailboxes(stores)
		return nil
	}

	syncMap, err := channel.BuildSyncMap(channels)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := watch.NewQueue()
	watch.NewSupervisor(queue, pool, stores, syncMap).Start()

	// Everything syncs once at startup; afterwards the watchers decide.
	queue.Put(watch.SyncAll(syncMap, stores))

	dispatcher := watch.NewDispatcher(queue, syncMap, channelsByName(channels), stores, opts.command)
	return dispatcher.Run(ctx)
}

func resolvePasswords(stores map[string]*channel.Store) error {
	names := make([]string, 0, len(stores))
	for name := range stores {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		st := stores[name]
		if !st.IMAP {
			continue
		}
		pw, err := config.Password(st)
		if err != nil {
			return err
		}
		st.Pass = pw
	}
	return nil
}

func listMailboxes(stores map[string]*channel.Store) {
	names := make([]string, 0, len(stores))
	for name := range stores {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Printf("%s:\n", name)
		for _, box := range stores[name].Mailboxes {
			fmt.Printf("  %s\n", box)
		}
	}
}

func channelsByName(channels []*channel.Channel) map[string]*channel.Channel {
	byName := make(map[string]*channel.Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name] = ch
	}
	return byName
}
