package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/daikin-cloud-core/internal/unit"
)

type setPowerRequest struct {
	On *bool `json:"on"`
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

type setTemperatureRequest struct {
	TargetTempC *float64 `json:"target_temp_c"`
}

type setFanSpeedRequest struct {
	FanSpeed string `json:"fan_speed"`
}

type commandResponse struct {
	Command *unit.Command `json:"command"`
}

func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Get(chi.URLParam(r, "unitID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "command dispatch is not available")
		return
	}

	var req setPowerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeBadRequest(w, "field \"on\" is required")
		return
	}

	cmd, err := s.dispatcher.SetPower(r.Context(), chi.URLParam(r, "unitID"), *req.On)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{Command: cmd})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "command dispatch is not available")
		return
	}

	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	mode := unit.Mode(req.Mode)
	if !mode.Valid() {
		writeBadRequest(w, "unrecognised mode: "+req.Mode)
		return
	}

	cmd, err := s.dispatcher.SetMode(r.Context(), chi.URLParam(r, "unitID"), mode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{Command: cmd})
}

func (s *Server) handleSetTemperature(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "command dispatch is not available")
		return
	}

	var req setTemperatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.TargetTempC == nil {
		writeBadRequest(w, "field \"target_temp_c\" is required")
		return
	}

	cmd, err := s.dispatcher.SetTargetTemperature(r.Context(), chi.URLParam(r, "unitID"), *req.TargetTempC)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{Command: cmd})
}

func (s *Server) handleSetFanSpeed(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "command dispatch is not available")
		return
	}

	var req setFanSpeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	speed := unit.FanSpeed(req.FanSpeed)
	if !speed.Valid() {
		writeBadRequest(w, "unrecognised fan speed: "+req.FanSpeed)
		return
	}

	cmd, err := s.dispatcher.SetFanSpeed(r.Context(), chi.URLParam(r, "unitID"), speed)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{Command: cmd})
}
