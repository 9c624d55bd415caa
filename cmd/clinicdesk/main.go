// Command clinicdesk runs and inspects the clinic front-desk record store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"clinicdesk/internal/blob"
	"clinicdesk/internal/config"
	"clinicdesk/internal/core"
	"clinicdesk/internal/events"
	"clinicdesk/internal/infra/kv"
	"clinicdesk/internal/logging"
	"clinicdesk/internal/query"
	"clinicdesk/internal/remote"
	"clinicdesk/internal/store"
	"clinicdesk/pkg/domain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootFlags struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:          "clinicdesk",
		Short:        "Clinic front-desk record store",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "optional dotenv file with CLINICDESK_ settings")

	root.AddCommand(serveCmd(flags))
	root.AddCommand(seedCmd(flags))
	root.AddCommand(inspectCmd(flags))
	root.AddCommand(resetCmd(flags))
	root.AddCommand(statsCmd(flags))
	root.AddCommand(syncCmd(flags))
	return root
}

// app is the wired record store shared by every command.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   *store.Store
	bus     *events.Bus
	svc     *core.Service
	closers []func() error
}

func openApp(ctx context.Context, flags *rootFlags, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(flags.envFile)
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty, stderr)
	origin := cfg.Origin
	if origin == "" {
		origin = "cli-" + uuid.NewString()[:8]
		cfg.Origin = origin
	}
	a := &app{cfg: cfg, log: log}

	backend, err := kv.Open(ctx, cfg.KV())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.closers = append(a.closers, backend.Close)

	a.bus = events.NewBus(events.WithLogger(logging.Component(log, "events")), events.WithOrigin(origin))

	var backendKV domain.KV = backend
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			a.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		bridge := events.NewRedisBridge(client, cfg.RedisChannel, origin, logging.Component(log, "redis"))
		backendKV = events.NewAnnouncingKV(backend, bridge, origin, logging.Component(log, "redis"))
		stop := a.bus.Bridge(bridge)
		a.closers = append(a.closers, func() error { stop(); return nil })
	} else if w, ok := backend.(domain.Watchable); ok {
		stop := a.bus.Bridge(w)
		a.closers = append(a.closers, func() error { stop(); return nil })
	}

	a.store = store.New(backendKV, store.WithLogger(logging.Component(log, "store")))
	if err := a.store.Init(ctx); err != nil {
		a.Close()
		return nil, err
	}

	blobs, err := blob.Open(ctx, cfg.Blob())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open image store: %w", err)
	}
	a.svc = core.NewService(a.store,
		core.WithLogger(logging.Component(log, "core")),
		core.WithBus(a.bus),
		core.WithFollowUpSlot(cfg.FollowUpSlotValue),
		core.WithImages(blob.NewImages(blobs)),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close")
		}
	}
	a.closers = nil
}

func withApp(flags *rootFlags, fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), flags, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

func serveCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the remote patients and prescriptions API and /metrics",
		RunE: withApp(flags, func(cmd *cobra.Command, _ []string, a *app) error {
			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			a.bus.SubscribeAll(func(ev events.Event) {
				a.log.Debug().
					Str("topic", string(ev.Topic)).
					Str("entity_id", ev.EntityID).
					Bool("remote", ev.Remote).
					Bool("derived", ev.Derived).
					Msg("event")
			})
			srv := remote.NewServer(a.svc, remote.WithServerLogger(logging.Component(a.log, "http")))

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.log.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			a.log.Info().Msg("server stopped")
			return nil
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to CLINICDESK_HTTP_ADDR)")
	return cmd
}

func inspectCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <collection>",
		Short: "Print one collection as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(flags, func(cmd *cobra.Command, args []string, a *app) error {
			c, err := domain.ParseCollection(args[0])
			if err != nil {
				return err
			}
			snapshot, err := a.store.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snapshot[c])
		}),
	}
}

func resetCmd(flags *rootFlags) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reset [collection]",
		Short: "Empty one collection, or every collection with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: withApp(flags, func(cmd *cobra.Command, args []string, a *app) error {
			targets := domain.Collections()
			if !all {
				c, err := domain.ParseCollection(args[0])
				if err != nil {
					return err
				}
				targets = []domain.Collection{c}
			}
			for _, c := range targets {
				if err := a.store.Reset(cmd.Context(), c); err != nil {
					return err
				}
				a.bus.Publish(cmd.Context(), events.Event{
					Topic:      domain.TopicCollectionChanged,
					Collection: c,
					Origin:     a.bus.Origin(),
					At:         time.Now().UTC(),
				})
				fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", c)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "reset every collection")
	return cmd
}

func statsCmd(flags *rootFlags) *cobra.Command {
	var orphans bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print dashboard counts, or dangling patient references with --orphans",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, _ []string, a *app) error {
			views := query.NewViews(a.store)
			if orphans {
				list, err := views.Orphans(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), list)
			}
			stats, err := views.Dashboard(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		}),
	}
	cmd.Flags().BoolVar(&orphans, "orphans", false, "list entities whose patientId no longer resolves")
	return cmd
}

func syncCmd(flags *rootFlags) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Exchange patients and prescriptions with the remote server",
	}
	cmd.PersistentFlags().StringVar(&url, "remote", "", "remote base URL (defaults to CLINICDESK_REMOTE_URL)")

	client := func(a *app) (*remote.Client, error) {
		base := url
		if base == "" {
			base = a.cfg.RemoteURL
		}
		timeout, err := a.cfg.Timeout()
		if err != nil {
			return nil, err
		}
		return remote.NewClient(base, timeout, remote.WithClientLogger(logging.Component(a.log, "remote")))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "pull",
		Short: "Overwrite local patients and prescriptions with the remote copy",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, _ []string, a *app) error {
			c, err := client(a)
			if err != nil {
				return err
			}
			res, err := c.Pull(cmd.Context(), a.store, a.bus)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pulled %d patients, %d prescriptions\n", res.Patients, res.Prescriptions)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "push",
		Short: "Send prescriptions the remote does not have yet",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, _ []string, a *app) error {
			c, err := client(a)
			if err != nil {
				return err
			}
			res, err := c.Push(cmd.Context(), a.store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %d prescriptions (%d patients)\n", res.Prescriptions, res.Patients)
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d prescriptions rejected: %v", len(res.Failed), res.Failed)
			}
			return nil
		}),
	})
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	var data []byte
	var err error
	if raw, ok := v.(json.RawMessage); ok {
		var items any
		if err := json.Unmarshal(raw, &items); err != nil {
			return err
		}
		data, err = json.MarshalIndent(items, "", "  ")
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
