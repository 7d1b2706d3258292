package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"audio-insights-go/internal/analyzer"
	"audio-insights-go/internal/config"
	"audio-insights-go/internal/intake"
	"audio-insights-go/internal/logger"
	"audio-insights-go/internal/pipeline"
	"audio-insights-go/internal/report"
	"audio-insights-go/internal/store"
	"audio-insights-go/internal/transcriber"
)

func main() {
	_ = godotenv.Load() // loads .env

	log := logger.New()
	log.WithField("service", "audio-insights-go").Info("starting service")

	cfg := config.Load()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create upload dir")
	}

	catalog := transcriber.NewCatalog(transcriber.Options{
		RemoteAPIURL: cfg.TranscribeAPIURL,
		SpeechAPIURL: cfg.SpeechAPIURL,
		Language:     cfg.SpeechLanguage,
		Device:       cfg.Device,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
	})
	log.WithField("device", catalog.Device()).Info("transcription catalog ready")

	an := analyzer.New(cfg.LLMGatewayURL, cfg.LLMAPIKey, cfg.LLMModel, nil)
	pl := pipeline.New(st, catalog, an)
	pool := intake.NewPool(cfg.MaxWorkers)
	svc := intake.NewService(st, catalog, pl, pool, cfg.UploadDir)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})

	mux.HandleFunc("GET /api/models", func(w http.ResponseWriter, r *http.Request) {
		logger.New().WithRequest(r).Info("listing models")
		writeJSON(w, http.StatusOK, catalog.AvailableModels(r.Context()))
	})

	mux.HandleFunc("POST /api/upload", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "upload")

		if err := r.ParseMultipartForm(64 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "no files sent")
			return
		}
		headers := r.MultipartForm.File["files[]"]
		if len(headers) == 0 {
			headers = r.MultipartForm.File["files"]
		}
		if len(headers) == 0 {
			writeError(w, http.StatusBadRequest, "no files sent")
			return
		}

		files := make([]intake.File, 0, len(headers))
		for _, h := range headers {
			f, err := h.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("could not read %q", h.Filename))
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("could not read %q", h.Filename))
				return
			}
			files = append(files, intake.File{Name: h.Filename, Data: data})
		}

		message, batchID, err := svc.CreateBatch(r.Context(), files, r.FormValue("batchName"), r.FormValue("modelId"))
		if err != nil {
			if errors.Is(err, intake.ErrNoValidFiles) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			reqLog.WithError(err).Error("batch creation failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		reqLog.WithField("batch_id", batchID).Info("batch accepted")
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"message":  message,
			"batch_id": batchID,
		})
	})

	mux.HandleFunc("GET /api/dashboard_data", func(w http.ResponseWriter, r *http.Request) {
		batchID, _ := parseOptionalID(r.URL.Query().Get("batch_id"))
		rows, err := st.DashboardRows(batchID)
		if err != nil {
			logger.New().WithRequest(r).WithError(err).Error("dashboard query failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, rows)
	})

	mux.HandleFunc("GET /api/dashboard_export", func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.New().WithRequest(r).WithField("handler", "export")
		batchID, _ := parseOptionalID(r.URL.Query().Get("batch_id"))
		rows, err := st.DashboardRows(batchID)
		if err != nil {
			reqLog.WithError(err).Error("dashboard query failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="dashboard.xlsx"`)
		if err := report.WriteDashboardXLSX(rows, w); err != nil {
			reqLog.WithError(err).Error("xlsx export failed")
		}
	})

	mux.HandleFunc("GET /api/batches", func(w http.ResponseWriter, r *http.Request) {
		batches, err := st.ListBatches()
		if err != nil {
			logger.New().WithRequest(r).WithError(err).Error("batch listing failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, batches)
	})

	mux.HandleFunc("GET /api/batch/{id}/details", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid batch id")
			return
		}
		rows, err := st.BatchFileStatuses(uint(id))
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		if err != nil {
			logger.New().WithRequest(r).WithError(err).Error("batch details failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, rows)
	})

	mux.HandleFunc("DELETE /api/batch/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid batch id")
			return
		}
		if err := st.DeleteBatch(uint(id)); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "batch not found")
				return
			}
			logger.New().WithRequest(r).WithError(err).Error("batch delete failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/transcription/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid transcription id")
			return
		}
		t, err := st.GetTranscription(uint(id))
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transcription not found")
			return
		}
		if err != nil {
			logger.New().WithRequest(r).WithError(err).Error("transcription lookup failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		text := t.TranscriptText
		if text == "" {
			text = "Content not available."
		}
		analysisJSON := map[string]interface{}{}
		if t.Analysis != nil && t.Analysis.FullJSON != "" {
			_ = json.Unmarshal([]byte(t.Analysis.FullJSON), &analysisJSON)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"transcript_text": text,
			"analysis":        analysisJSON,
		})
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("addr", addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}

	// Let in-flight file pipelines drain before the process exits.
	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info("all pipelines drained")
	case <-time.After(30 * time.Second):
		log.WithField("in_flight", pool.InFlight()).Warn("exiting with pipelines still running")
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func parseOptionalID(s string) (uint, error) {
	if s == "" || s == "all" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(n), nil
}
