package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

	"github.com/sells-group/email-sleuth/internal/model"
	"github.com/sells-group/email-sleuth/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP verification API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{
			proc:         env.Orchestrator,
			newBatch:     func() *pipeline.Batch { return env.NewBatch(nil) },
			maxBatchSize: cfg.Server.MaxBatchSize,
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.routes(cfg.Server.MaxInFlight),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// apiResponse is the envelope for single-contact responses.
type apiResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Result  *model.ContactResult `json:"result,omitempty"`
}

// batchResponse is the envelope for batch responses.
type batchResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	RunID   string                 `json:"run_id,omitempty"`
	Results []*model.ContactResult `json:"results"`
}

type batchRequest struct {
	Contacts []model.Contact `json:"contacts"`
}

// apiServer serves the verification endpoints.
type apiServer struct {
	proc         pipeline.Processor
	newBatch     func() *pipeline.Batch
	maxBatchSize int
}

// routes builds the chi router. maxInFlight bounds concurrently handled
// requests.
func (s *apiServer) routes(maxInFlight int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, apiResponse{Message: "Not Found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, apiResponse{Message: "Method Not Allowed"})
	})

	r.Get("/health", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Throttle(max(maxInFlight, 1)))
		r.Post("/verify", s.handleVerify)
		r.Post("/batch", s.handleBatch)
	})
	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "email-sleuth API is running"})
}

func (s *apiServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	var contact model.Contact
	if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Bad request: invalid JSON body"})
		return
	}

	res := s.proc.Process(r.Context(), contact)
	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Contact processed successfully",
		Result:  res,
	})
}

func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, batchResponse{Message: "Bad request: invalid JSON body"})
		return
	}
	if s.maxBatchSize > 0 && len(req.Contacts) > s.maxBatchSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, batchResponse{
			Message: fmt.Sprintf("Batch too large: %d contacts (max %d)", len(req.Contacts), s.maxBatchSize),
		})
		return
	}

	zap.L().Info("processing batch request", zap.Int("contacts", len(req.Contacts)))
	run, results, err := s.newBatch().Run(r.Context(), "api", req.Contacts)
	if err != nil {
		zap.L().Error("batch request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, batchResponse{Message: "Server error"})
		return
	}

	writeJSON(w, http.StatusOK, batchResponse{
		Success: true,
		Message: fmt.Sprintf("Processed %d contacts", len(results)),
		RunID:   run.ID,
		Results: results,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request with zap once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			zap.L().Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
