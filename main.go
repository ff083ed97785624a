package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/metalab/rendezvous/internal/rvid"
	"github.com/metalab/rendezvous/internal/rvkiosk"
	"github.com/metalab/rendezvous/internal/rvmetrics"
	"github.com/metalab/rendezvous/internal/rvstore/rvmemorystore"
	"github.com/metalab/rendezvous/internal/rvsweeper"
)

const defaultPort = 3000

func main() {
	time.Local = time.UTC

	rootCmd := &cobra.Command{
		Use:   "rendezvous",
		Short: "Hackerspace dates board",
		Long: strings.TrimSpace(`
A small board where people post short-lived listings looking for company, be it
for a project, a meal, or a walk. Listings expire on their own after a chosen
number of days, and can be extended or taken down early with a password.

Running with no arguments starts the server.
			`),
		Example: strings.TrimSpace(`
# start the server listening on $PORT
rendezvous serve

# find out which number a listing ID was generated from
rendezvous decode-id 8Kx2mWqz
		`),
		Run: func(cmd *cobra.Command, args []string) {
			if err := runServe(); err != nil {
				abortErr(err)
			}
		},
	}

	// rendezvous decode-id
	{
		cmd := &cobra.Command{
			Use:   "decode-id <id>",
			Short: "Decode a listing ID back to its sequence number",
			Long: strings.TrimSpace(`
Listing IDs are sequence numbers scrambled with $ID_SALT so that they can't be
guessed. This command reverses that, which is useful for working out the order
in which listings were posted. The salt must be the same one the server was
running with.
			`),
			Args: cobra.ExactArgs(1),
			Run: func(cmd *cobra.Command, args []string) {
				if err := runDecodeID(args[0]); err != nil {
					abortErr(err)
				}
			},
		}
		rootCmd.AddCommand(cmd)
	}

	// rendezvous serve
	{
		cmd := &cobra.Command{
			Use:   "serve",
			Short: "Start the server",
			Long: strings.TrimSpace(fmt.Sprintf(`
Starts the server, binding to $PORT, or default to %d. Runs until interrupted,
expiring old listings and rotating the kiosk display in the background.
			`, defaultPort)),
			Run: func(cmd *cobra.Command, args []string) {
				if err := runServe(); err != nil {
					abortErr(err)
				}
			},
		}
		rootCmd.AddCommand(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		abortErr(err)
	}
}

func abort(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func abortErr(err error) {
	abort("error: %v", err)
}

func runDecodeID(id string) error {
	config, err := parseConfig()
	if err != nil {
		return err
	}

	idGenerator, err := rvid.NewGenerator(config.IDSalt)
	if err != nil {
		return err
	}

	n, err := idGenerator.Decode(id)
	if err != nil {
		return err
	}

	fmt.Printf("%d\n", n)
	return nil
}

func runServe() error {
	config, err := parseConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(config)
	if err != nil {
		return err
	}

	idGenerator, err := rvid.NewGenerator(config.IDSalt)
	if err != nil {
		return err
	}

	store := rvmemorystore.NewMemoryStore(idGenerator)
	rvmetrics.MustRegister(prometheus.DefaultRegisterer, store.Count)

	kioskHub := rvkiosk.NewHub(logger, store, config.KioskInterval)
	sweeper := rvsweeper.NewSweeper(logger, store, config.SweepInterval)
	server := NewServer(logger, store, kioskHub, config.Port, config.RequestTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Start(ctx)
	})
	group.Go(func() error {
		sweeper.Run(ctx)
		return nil
	})
	group.Go(func() error {
		kioskHub.Run(ctx)
		return nil
	})

	return group.Wait()
}
