package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/example/box-scheduler/internal/executor"
	"github.com/example/box-scheduler/internal/prebooking"
	"github.com/example/box-scheduler/internal/sweep"
	"github.com/example/box-scheduler/internal/trigger"
)

type Webhook interface {
	HandleTrigger(ctx context.Context, p trigger.Payload) (executor.Result, error)
}

type Sweep interface {
	Run(ctx context.Context, opt sweep.Options) (sweep.Report, error)
}

type Prebookings interface {
	Create(ctx context.Context, i prebooking.Intent) (prebooking.Intent, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context, email string, limit int) ([]prebooking.Intent, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Exec        Webhook
	Sweep       Sweep
	Prebookings Prebookings
	DB          Pinger

	CronSecret string
	APIToken   string

	// Budget bounds one webhook or cron invocation.
	Budget time.Duration
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(AccessLog)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/prebooking/execute", s.handleExecute)

	r.Group(func(r chi.Router) {
		r.Use(RequireBearer(s.CronSecret))
		r.Post("/cron/prebookings", s.handleCron)
	})

	r.Route("/api/prebookings", func(r chi.Router) {
		r.Use(RequireBearer(s.APIToken))
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Post("/{id}/cancel", s.handleCancel)
	})

	return r
}

// invocation detaches the work from the caller's connection: once started an
// execution is recorded even if the caller goes away.
func (s *Server) invocation(r *http.Request) (context.Context, context.CancelFunc) {
	budget := s.Budget
	if budget <= 0 {
		budget = 60 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(r.Context()), budget)
}

func Start(ctx context.Context, addr string, h http.Handler, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
