package web

import (
	"encoding/json"
	"io"
	"net/http"

	"supportdesk/internal/config"
)

// handleGetConfig returns the current config with secrets masked.
func (s *Server) handleGetConfig(rw http.ResponseWriter, r *http.Request) {
	s.cfgMu.RLock()
	var sanitized *config.Config
	if s.cfg != nil {
		sanitized = config.Sanitize(s.cfg)
	}
	s.cfgMu.RUnlock()

	if sanitized == nil {
		writeError(rw, http.StatusServiceUnavailable, "config not loaded")
		return
	}
	writeJSON(rw, http.StatusOK, sanitized)
}

// handleUpdateConfig applies a dot-path or full update in memory. Changes
// to delays and credentials take effect on the next start.
func (s *Server) handleUpdateConfig(rw http.ResponseWriter, r *http.Request) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	if s.cfg == nil {
		writeError(rw, http.StatusServiceUnavailable, "config not loaded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	defer r.Body.Close()

	// Partial update: { "path": "timeline.deliverDelayMs", "value": 800 }
	var partial struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(body, &partial); err == nil && partial.Path != "" {
		candidate := *s.cfg
		if err := config.SetByPath(&candidate, partial.Path, partial.Value); err != nil {
			writeError(rw, http.StatusBadRequest, err.Error())
			return
		}
		if err := config.Validate(&candidate); err != nil {
			writeError(rw, http.StatusBadRequest, "validation: "+err.Error())
			return
		}
		*s.cfg = candidate
		s.logger.Info("config updated via path", "path", partial.Path)
		writeJSON(rw, http.StatusOK, map[string]string{"status": "updated", "path": partial.Path})
		return
	}

	var candidate config.Config
	if err := json.Unmarshal(body, &candidate); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}
	if err := config.Validate(&candidate); err != nil {
		writeError(rw, http.StatusBadRequest, "validation: "+err.Error())
		return
	}
	*s.cfg = candidate

	s.logger.Info("config updated (full)")
	writeJSON(rw, http.StatusOK, map[string]string{"status": "updated"})
}

// handleSaveConfig writes the in-memory config to its file.
func (s *Server) handleSaveConfig(rw http.ResponseWriter, r *http.Request) {
	// Exclusive so that concurrent saves do not interleave on disk.
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	cfgPath := s.cfgPath
	if s.cfg == nil || cfgPath == "" {
		writeError(rw, http.StatusServiceUnavailable, "config not available")
		return
	}
	if err := config.Save(cfgPath, s.cfg); err != nil {
		writeError(rw, http.StatusInternalServerError, "save failed: "+err.Error())
		return
	}

	s.logger.Info("config saved to disk", "path", cfgPath)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "saved", "path": cfgPath})
}
