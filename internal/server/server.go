// Package server is the thin HTTP front end over the pipeline: upload a
// query table plus an API key, get the output table back, re-download it
// later by session ID. All real behavior lives in internal/pipeline.
package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/leadgrid/places-pipeline/internal/config"
	"github.com/leadgrid/places-pipeline/internal/pipeline"
	"github.com/leadgrid/places-pipeline/internal/util"
)

const (
	queriesFilename = "queries.csv"
	outputFilename  = "output.csv"

	maxUploadBytes = 32 << 20
)

type Server struct {
	cfg       config.Config
	uploadDir string
	logger    *log.Logger

	// summarizer is optional and shared across runs.
	summarizer pipeline.Summarizer
}

func New(cfg config.Config, uploadDir string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stdout, "", log.LstdFlags)
	}
	return &Server{
		cfg:       cfg,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

// WithSummarizer enables lead summarization for runs started via this server.
func (s *Server) WithSummarizer(sum pipeline.Summarizer) *Server {
	s.summarizer = sum
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/serper", s.handleRun)
	mux.HandleFunc("/download/", s.handleDownload)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok\n")
}

// handleRun accepts a multipart form with a "queries" file and a
// "serper_api_key" field, runs the pipeline into a fresh session directory,
// and responds with the output table.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "bad multipart form", http.StatusBadRequest)
		return
	}

	apiKey := strings.TrimSpace(r.FormValue("serper_api_key"))
	if apiKey == "" {
		http.Error(w, "serper_api_key is required", http.StatusBadRequest)
		return
	}

	upload, _, err := r.FormFile("queries")
	if err != nil {
		http.Error(w, "queries file is required", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = upload.Close()
	}()

	session := uuid.NewString()
	dir := filepath.Join(s.uploadDir, session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.serverError(w, "create session dir", err)
		return
	}

	queriesPath := filepath.Join(dir, queriesFilename)
	if err := saveUpload(queriesPath, upload); err != nil {
		s.serverError(w, "save upload", err)
		return
	}

	runner := &pipeline.Runner{
		Config:     s.cfg,
		APIKey:     apiKey,
		Logger:     s.logger,
		Summarizer: s.summarizer,
	}
	res, err := runner.Run(r.Context(), queriesPath, filepath.Join(dir, outputFilename))
	if err != nil {
		// Bad input tables are the caller's problem; everything else is ours.
		if strings.Contains(err.Error(), "must contain") || strings.Contains(err.Error(), "read header") {
			http.Error(w, util.RedactSecrets(err.Error()), http.StatusBadRequest)
			return
		}
		s.serverError(w, "run pipeline", err)
		return
	}

	s.logger.Printf("session=%s served %d rows (%d api calls)", session, res.Accepted, res.APICalls)
	w.Header().Set("X-Session-ID", session)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", outputFilename))
	http.ServeFile(w, r, res.OutputPath)
}

// handleDownload re-serves a previous session's output file.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/download/")
	session, err := uuid.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.uploadDir, session.String(), outputFilename)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		http.Error(w, "no output for session "+session.String(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", outputFilename))
	http.ServeFile(w, r, path)
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	msg := util.RedactSecrets(err.Error())
	s.logger.Printf("%s failed: %s", op, msg)
	http.Error(w, op+" failed: "+msg, http.StatusInternalServerError)
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}
