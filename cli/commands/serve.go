package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pijaz/pijaz-go/core"
	"github.com/pijaz/pijaz-go/render"
)

func (a *App) newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve renders over HTTP",
		Long: `Start an HTTP server that renders workflows on request.

Routes:
  GET /render/{workflow}   the rendered image; query parameters are render parameters
  GET /url/{workflow}      {"url": ...} without fetching the image
  GET /health              liveness check

Access tokens are cached per workflow and refreshed before they expire.
Workflows listed in the config are always cached; at most 1024 others are,
after which their requests acquire a fresh token each time.`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}
	cmd.Flags().StringVar(&a.serveAddr, "addr", a.serveAddr, "listen address")
	return cmd
}

func (a *App) runServe(cmd *cobra.Command, args []string) error {
	m, err := a.newManager()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.serveAddr)
	if err != nil {
		return exitWithCode(ExitValidation, fmt.Errorf("failed to listen on %s: %w", a.serveAddr, err))
	}

	srv := &http.Server{
		Handler:           newRenderServer(a, m).routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	fmt.Fprintf(a.stdout, "Serving renders on http://%s\n", ln.Addr())
	return serveUntilDone(ctx, srv, ln)
}

// serveUntilDone runs srv until ctx is canceled, then shuts it down.
func serveUntilDone(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// maxServedProducts bounds how many unconfigured workflows keep a cached product.
const maxServedProducts = 1024

// renderServer keeps one product per workflow so tokens are reused across requests.
type renderServer struct {
	app     *App
	manager *core.ServerManager
	fetcher *render.Fetcher
	log     zerolog.Logger

	mu          sync.Mutex
	products    map[string]*core.Product
	adhoc       int
	maxProducts int
}

func newRenderServer(a *App, m *core.ServerManager) *renderServer {
	return &renderServer{
		app:         a,
		manager:     m,
		fetcher:     a.newFetcher(),
		log:         a.log.With().Str("component", "serve").Logger(),
		products:    make(map[string]*core.Product),
		maxProducts: maxServedProducts,
	}
}

func (s *renderServer) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/render/{workflow}", s.handleRender).Methods(http.MethodGet)
	r.HandleFunc("/url/{workflow}", s.handleURL).Methods(http.MethodGet)
	return r
}

func (s *renderServer) product(workflow string) (*core.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.products[workflow]; ok {
		return p, nil
	}
	p, err := s.app.newProduct(s.manager, workflow, nil)
	if err != nil {
		return nil, err
	}

	_, configured := s.app.cfg.Workflows[workflow]
	switch {
	case configured:
	case s.adhoc < s.maxProducts:
		s.adhoc++
	default:
		return p, nil
	}
	s.products[workflow] = p
	return p, nil
}

func (s *renderServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *renderServer) handleRender(w http.ResponseWriter, r *http.Request) {
	p, err := s.product(mux.Vars(r)["workflow"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.fetcher.ServeHTTPFor(w, r, p)
}

func (s *renderServer) handleURL(w http.ResponseWriter, r *http.Request) {
	p, err := s.product(mux.Vars(r)["workflow"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	u, err := p.GenerateURL(r.Context(), render.QueryParams(r))
	if err != nil {
		status := render.StatusFor(err)
		s.log.Error().Err(err).Int("status", status).Msg("url generation failed")
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSONTo(w, map[string]string{"url": u})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// logRequests logs method, path, status and duration of every request.
// Query strings are not logged; they may carry user text.
func (s *renderServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
