package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Muesli84/FinanceManager-sub001/internal/booking"
	"github.com/Muesli84/FinanceManager-sub001/internal/booklog"
	"github.com/Muesli84/FinanceManager-sub001/internal/config"
	"github.com/Muesli84/FinanceManager-sub001/internal/drafts"
	"github.com/Muesli84/FinanceManager-sub001/internal/importer"
	"github.com/Muesli84/FinanceManager-sub001/internal/journal"
	"github.com/Muesli84/FinanceManager-sub001/internal/keylock"
	"github.com/Muesli84/FinanceManager-sub001/internal/logger"
	"github.com/Muesli84/FinanceManager-sub001/internal/masterdata"
	"github.com/Muesli84/FinanceManager-sub001/internal/metrics"
	"github.com/Muesli84/FinanceManager-sub001/internal/store"
	"github.com/Muesli84/FinanceManager-sub001/internal/store/memory"
	"github.com/Muesli84/FinanceManager-sub001/internal/store/postgres"
)

// stateFile is the memory store snapshot inside the data directory.
const stateFile = "state.json"

// app is the wiring shared by every command that works on a finman directory.
type app struct {
	dir     string
	dataDir string
	owner   string
	cfg     *config.Config
	log     zerolog.Logger

	store   store.Store
	mem     *memory.Store // nil when backed by Postgres
	closers []func()

	registry *importer.Registry
	drafts   *drafts.Service
	engine   *booking.Engine
	journal  *journal.Service
}

// openApp loads configuration and master data from the --dir directory, opens
// the store and returns a context carrying the logger.
func openApp(cmd *cobra.Command) (*app, context.Context, error) {
	dirFlag, _ := cmd.Flags().GetString("dir")
	dir, err := filepath.Abs(dirFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving path: %w", err)
	}

	if err := config.LoadEnv(dir); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	if err != nil {
		return nil, nil, err
	}
	cfg.ApplyEnv()
	if cfg.Owner.ID == "" {
		return nil, nil, errors.New("config: owner id is not set")
	}

	log := logger.New(cfg.Log.Level)
	ctx := logger.WithContext(cmd.Context(), log)

	a := &app{
		dir:     dir,
		dataDir: cfg.DataPath(dir),
		owner:   cfg.Owner.ID,
		cfg:     cfg,
		log:     log,
	}

	if err := a.openStore(ctx); err != nil {
		return nil, nil, err
	}

	md, err := masterdata.Load(dir)
	if err != nil {
		a.close()
		return nil, nil, err
	}
	seeder, ok := a.store.(store.Seeder)
	if !ok {
		a.close()
		return nil, nil, errors.New("store cannot load master data")
	}
	if err := md.Seed(ctx, seeder, a.store, a.owner); err != nil {
		a.close()
		return nil, nil, err
	}

	a.registry = importer.DefaultRegistry(cfg.Currency, log)
	if len(cfg.Import.Readers) > 0 {
		if a.registry, err = a.registry.Restrict(cfg.Import.Readers); err != nil {
			a.close()
			return nil, nil, fmt.Errorf("config: %w", err)
		}
	}

	ttl, err := cfg.CacheTTL()
	if err != nil {
		a.close()
		return nil, nil, err
	}
	opts := []drafts.Option{drafts.WithOriginalContent(cfg.Import.KeepOriginal)}
	if ttl > 0 {
		opts = append(opts, drafts.WithCacheTTL(ttl))
	}

	locks := &keylock.Table{}
	a.drafts = drafts.NewService(a.store, a.registry, locks, opts...)
	a.engine = booking.NewEngine(a.store, locks)
	a.journal = journal.NewService(cfg.JournalPath(dir), a.owner)

	addr, _ := cmd.Flags().GetString("metrics-addr")
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		if err := a.serveMetrics(addr); err != nil {
			a.close()
			return nil, nil, err
		}
	}

	return a, ctx, nil
}

func (a *app) openStore(ctx context.Context) error {
	if url := a.cfg.Storage.DatabaseURL; url != "" {
		pg, err := postgres.NewStore(ctx, url)
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return err
		}
		a.store = pg
		a.closers = append(a.closers, pg.Close)
		a.log.Debug().Msg("using postgres store")
		return nil
	}

	mem, err := memory.Load(filepath.Join(a.dataDir, stateFile))
	if err != nil {
		return err
	}
	a.store = mem
	a.mem = mem
	return nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("metrics server")
		}
	}()
	a.log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return nil
}

// save persists the memory store snapshot. Postgres commits on its own.
func (a *app) save() error {
	if a.mem == nil {
		return nil
	}
	return a.mem.Save(filepath.Join(a.dataDir, stateFile))
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// record appends to the booking log. Failures are reported, not fatal: the
// state change has already been committed.
func (a *app) record(action booklog.Action, draftID, entryID, outcome, details string) {
	e := booklog.Entry{
		Timestamp: time.Now().UTC(),
		OwnerID:   a.owner,
		Action:    action,
		DraftID:   draftID,
		EntryID:   entryID,
		Outcome:   outcome,
		Details:   details,
	}
	if err := booklog.Append(a.dataDir, []booklog.Entry{e}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write booking log: %v\n", err)
	}
}

// withApp runs fn with an opened app and saves state afterwards when mutate is set.
func withApp(mutate bool, fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, ctx, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		runErr := fn(ctx, a, cmd, args)
		if mutate {
			if err := a.save(); err != nil {
				return errors.Join(runErr, err)
			}
		}
		return runErr
	}
}
