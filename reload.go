package denyproxy

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SIGHUPReloader watches for SIGHUP signals and reloads a PolicyStore.
// Call Cancel to stop watching.
type SIGHUPReloader struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the SIGHUP watcher and waits for it to exit.
func (r *SIGHUPReloader) Cancel() {
	r.cancel()
	<-r.done
}

// WatchSIGHUP reloads store on every SIGHUP until the returned reloader is
// cancelled. A failed reload keeps the previous snapshot.
func WatchSIGHUP(store *PolicyStore, logger *slog.Logger) *SIGHUPReloader {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	return watchReload(store, sigCh, func() { signal.Stop(sigCh) }, logger)
}

func watchReload(store *PolicyStore, trigger <-chan os.Signal, stop func(), logger *slog.Logger) *SIGHUPReloader {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-trigger:
				logger.Info("received SIGHUP, reloading policy")
				if err := store.Load(ctx); err != nil {
					logger.Error("policy reload failed", "error", err)
					continue
				}
				p := store.Current()
				logger.Info("policy reloaded",
					"forbidden_hosts", len(p.forbiddenHosts),
					"banned_words", len(p.bannedWords))
			}
		}
	}()

	return &SIGHUPReloader{cancel: cancel, done: done}
}
