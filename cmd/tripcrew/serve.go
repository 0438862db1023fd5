package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"

	"github.com/tripcrew/tripcrew/runtime/planner/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chatbot HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	ctx := logContext(cfg.Debug)
	log.Print(ctx, log.KV{K: "http-addr", V: cfg.HTTP.Addr}, log.KV{K: "model", V: cfg.Model.Provider + "/" + cfg.Model.Name})

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: newHandler(ctx, a, cfg.Debug), ReadHeaderTimeout: 60 * time.Second}
	go func() {
		log.Printf(ctx, "HTTP server listening on %q", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)

	// Shutdown gracefully with a 30s timeout.
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Printf(ctx, "failed to shutdown: %v", err)
	}
	if err := a.close(sctx); err != nil {
		log.Errorf(ctx, err, "failed to release resources")
	}
	log.Printf(ctx, "exited")
	return nil
}

// newHandler mounts the chatbot endpoints, health checks and debug
// toggles and wraps the mux with the clue middlewares.
func newHandler(ctx context.Context, a *app, dbg bool) http.Handler {
	mux := goahttp.NewMuxer()
	if dbg {
		debug.MountPprofHandlers(debug.Adapt(mux))
	}
	// Mount /debug endpoint to enable or disable debug logs at runtime.
	debug.MountDebugLogEnabler(debug.Adapt(mux))

	check := health.Handler(health.NewChecker(a.pingers...))
	mux.Handle("GET", "/livez", check)
	mux.Handle("GET", "/healthz", check)

	srv := service.New(a.orch, mux, goahttp.RequestDecoder, goahttp.ResponseEncoder, errorHandler(ctx))
	service.Mount(mux, srv)
	for _, m := range srv.Mounts {
		log.Printf(ctx, "HTTP %q mounted on %s %s", m.Method, m.Verb, m.Pattern)
	}

	var handler http.Handler = mux
	if dbg {
		// Log query and response bodies if debug logs are enabled.
		handler = debug.HTTP()(handler)
	}
	return log.HTTP(ctx)(handler)
}

// errorHandler returns a function that writes and logs the given error.
func errorHandler(logCtx context.Context) func(context.Context, http.ResponseWriter, error) {
	return func(ctx context.Context, w http.ResponseWriter, err error) {
		log.Errorf(logCtx, err, "request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
