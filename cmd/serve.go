package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadsync/internal/capture"
	"github.com/sells-group/leadsync/internal/model"
	"github.com/sells-group/leadsync/internal/resilience"
)

var servePort int

// stageHandler runs CRM stage events.
type stageHandler interface {
	HandleStageEvent(ctx context.Context, ev model.CrmStageEvent) (*model.StageResult, error)
}

// leadCapturer stores captured leads.
type leadCapturer interface {
	CaptureWeb(ctx context.Context, ev model.WebCaptureEvent) (*model.Lead, error)
	CaptureNative(ctx context.Context, ev model.NativeLeadEvent) (*model.Lead, error)
}

// healthChecker reports backend reachability and the sink circuit.
type healthChecker interface {
	Ping(ctx context.Context) error
	CircuitState() resilience.CircuitState
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the capture and CRM webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Engine, env.Capture, env, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return runServer(ctx, srv)
	},
}

// runServer serves until ctx is cancelled, then drains in-flight requests.
func runServer(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return eris.Wrap(srv.Shutdown(shutdownCtx), "server shutdown")
	})

	return g.Wait()
}

// buildRouter wires the HTTP routes.
func buildRouter(stages stageHandler, capt leadCapturer, health healthChecker, origins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// An open sink circuit is reported but stays 200: restarting the
	// instance does not bring the sink back.
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if err := health.Ping(req.Context()); err != nil {
			zap.L().Error("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		circuit := health.CircuitState()
		status := "ok"
		if circuit == resilience.CircuitOpen {
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status, "sink_circuit": circuit.String()})
	})

	r.Post("/capture-site-data", func(w http.ResponseWriter, req *http.Request) {
		var ev model.WebCaptureEvent
		if !decodeBody(w, req, &ev) {
			return
		}
		ev.ClientIP = clientIP(req)
		if ev.UserAgent == "" {
			ev.UserAgent = req.UserAgent()
		}

		lead, err := capt.CaptureWeb(context.WithoutCancel(req.Context()), ev)
		if err != nil {
			writeCaptureError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "identity_id": lead.IdentityID})
	})

	r.Post("/capture-native-lead", func(w http.ResponseWriter, req *http.Request) {
		var ev model.NativeLeadEvent
		if !decodeBody(w, req, &ev) {
			return
		}
		if err := ev.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		lead, err := capt.CaptureNative(context.WithoutCancel(req.Context()), ev)
		if err != nil {
			writeCaptureError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "identity_id": lead.IdentityID})
	})

	r.Post("/webhook", func(w http.ResponseWriter, req *http.Request) {
		var payload crmWebhook
		if !decodeBody(w, req, &payload) {
			return
		}

		// The CRM redelivers on error; a started resolution runs to completion
		// even if the caller hangs up.
		res, err := stages.HandleStageEvent(context.WithoutCancel(req.Context()), payload.event())
		if err != nil {
			zap.L().Error("stage event failed",
				zap.String("tag", payload.Tag.Name),
				zap.String("request_id", middleware.GetReqID(req.Context())),
				zap.Error(err),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	return r
}

// crmWebhook is the CRM's stage-change payload.
type crmWebhook struct {
	Tag struct {
		Name string `json:"name"`
	} `json:"tag"`
	Lead *model.Contact `json:"lead"`
}

func (p crmWebhook) event() model.CrmStageEvent {
	ev := model.CrmStageEvent{TagName: p.Tag.Name}
	if p.Lead != nil {
		ev.Contact = *p.Lead
	}
	return ev
}

func decodeBody(w http.ResponseWriter, req *http.Request, dst any) bool {
	req.Body = http.MaxBytesReader(w, req.Body, 1<<20)
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeCaptureError(w http.ResponseWriter, err error) {
	if errors.Is(err, capture.ErrEmptyCapture) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	zap.L().Error("capture failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
}

// clientIP returns the address set by middleware.RealIP, without the port.
func clientIP(req *http.Request) string {
	host := req.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
