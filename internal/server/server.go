package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/audiolibrelab/callcapture/internal/service"
)

// Server exposes the recording service over a local HTTP control API
type Server struct {
	service service.Service
	listen  string
	log     *slog.Logger
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status           string                    `json:"status"`
	Message          string                    `json:"message,omitempty"`
	Session          *service.RecordingSession `json:"session,omitempty"`
	RecordingEnabled bool                      `json:"recording_enabled"`
	LastOutput       string                    `json:"last_output,omitempty"`
	Config           *ResolvedConfigInfo       `json:"resolved_config"`
}

// ResolvedConfigInfo contains configuration information for clients
type ResolvedConfigInfo struct {
	OutputDir  string `json:"output_dir"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	KeepAlive  bool   `json:"keep_alive"`
	Backend    string `json:"backend"`
}

// StartRequest is the body of POST /api/start
type StartRequest struct {
	Name string `json:"name"`
}

// FileInfo contains information about a mixed recording
type FileInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	StreamURL    string    `json:"stream_url"`
}

// FilesResponse represents the JSON response for files endpoint
type FilesResponse struct {
	Files           []FileInfo `json:"files"`
	TotalCount      int        `json:"total_count"`
	OutputDirectory string     `json:"output_directory"`
}

// New creates a server for svc listening on listen (host:port).
func New(svc service.Service, listen string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{service: svc, listen: listen, log: logger}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/start", s.handleStartRecording)
	mux.HandleFunc("/api/stop", s.handleStopRecording)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/sources", s.handleSources)
	mux.HandleFunc("/api/recording/toggle", s.handleToggleRecording)
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/files/stream/", s.handleFileStream)
	return mux
}

// Start serves the API until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	s.log.Info("Starting CallCapture control API", "url", "http://"+ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleStartRecording starts a session (STANDBY -> RECORDING)
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "start_recording")
		return
	}

	s.log.Debug("Start request received", "name", req.Name)

	if !s.service.RecordingEnabled() {
		s.sendJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"recording": false,
			"message":   "Recording is disabled",
		})
		return
	}

	if err := s.service.StartRecording(req.Name); err != nil {
		s.sendErrorResponse(w, http.StatusConflict,
			fmt.Sprintf("Failed to start recording: %v", err),
			"name", req.Name, "operation", "start_recording")
		return
	}

	_, sess := s.service.GetRecordingStatus()
	response := map[string]interface{}{
		"success":   true,
		"recording": true,
		"message":   "Recording started",
	}
	if sess != nil {
		response["output_file"] = sess.OutputFile
		response["channels"] = sess.ChannelCount
	}
	s.sendJSON(w, http.StatusOK, response)
}

// handleStopRecording stops the current session and mixes it
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// The mix must finish even if the client goes away.
	report, err := s.service.StopRecording(context.WithoutCancel(r.Context()))
	if report == nil && err == nil {
		s.sendJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "No recording in progress",
		})
		return
	}
	if report == nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "stop_recording")
		return
	}

	response := map[string]interface{}{
		"success":  report.Output,
		"message":  "Recording stopped",
		"duration": report.Duration.Round(time.Millisecond).String(),
		"channels": report.Channels,
	}
	if report.Output {
		response["message"] = "Recording stopped and mixed successfully"
		response["output_file"] = report.Destination
	}
	if err != nil {
		response["error"] = err.Error()
	}
	s.sendJSON(w, http.StatusOK, response)
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status, sess := s.service.GetRecordingStatus()
	cfg := s.service.GetConfig()

	response := StatusResponse{
		Status:           string(status),
		Message:          s.generateStatusMessage(status, sess),
		Session:          sess,
		RecordingEnabled: s.service.RecordingEnabled(),
		LastOutput:       s.service.LastOutput(),
		Config: &ResolvedConfigInfo{
			OutputDir:  cfg.Output.Directory,
			SampleRate: cfg.Audio.MixSampleRate,
			Channels:   cfg.Audio.MixChannels,
			KeepAlive:  cfg.Recording.KeepAlive,
			Backend:    cfg.Audio.Backend,
		},
	}
	s.sendJSON(w, http.StatusOK, response)
}

// handleSources lists the devices a session started now would record
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.sendJSON(w, http.StatusOK, s.service.Sources())
}

// handleToggleRecording flips the recording policy
func (s *Server) handleToggleRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	enabled, err := s.service.ToggleRecording()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to toggle recording: %v", err),
			"operation", "toggle_recording")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"recording_enabled": enabled,
	})
}

// handleFiles lists mixed recordings in the output directory, newest first
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	outputDir := s.service.GetConfig().Output.Directory
	entries, err := os.ReadDir(outputDir)
	if err != nil && !os.IsNotExist(err) {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to read output directory: %v", err))
		return
	}

	files := []FileInfo{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.log.Warn("Failed to get file info", "file", entry.Name(), "error", err)
			continue
		}
		files = append(files, FileInfo{
			Name:         entry.Name(),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			StreamURL:    "/api/files/stream/" + entry.Name(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})

	s.sendJSON(w, http.StatusOK, FilesResponse{
		Files:           files,
		TotalCount:      len(files),
		OutputDirectory: outputDir,
	})
}

// handleFileStream streams a mixed recording
func (s *Server) handleFileStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/files/stream/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}
	// Validate filename (prevent path traversal)
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}
	if !strings.EqualFold(filepath.Ext(filename), ".wav") {
		http.Error(w, "File type not supported", http.StatusForbidden)
		return
	}

	file, err := os.Open(filepath.Join(s.service.GetConfig().Output.Directory, filename))
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error opening file", http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	http.ServeContent(w, r, filename, info.ModTime(), file)
}

// generateStatusMessage creates appropriate status messages based on current state
func (s *Server) generateStatusMessage(status service.RecordingStatus, sess *service.RecordingSession) string {
	switch status {
	case service.StatusDisabled:
		return "Recording is disabled"
	case service.StatusStarting:
		return "Opening audio devices"
	case service.StatusRecording:
		if sess != nil && sess.Name != "" {
			return fmt.Sprintf("Recording in progress - %s", sess.Name)
		}
		return "Recording in progress"
	case service.StatusMixing:
		return "Mixing recording"
	case service.StatusError:
		if details := s.service.GetLastError(); details != "" {
			return details
		}
		return "An error occurred during the operation"
	default:
		return ""
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to write response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	logFields = append(logFields, logContext...)
	s.log.Error("Sending error response to client", logFields...)

	s.sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
