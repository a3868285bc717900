package app

import (
	"context"
	"fmt"
	"time"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	RunID      string            `json:"run_id"`
	Stage      string            `json:"stage"`
	Components map[string]string `json:"components"`
}

type HealthService struct {
	app *App
}

func NewHealthService(app *App) *HealthService {
	return &HealthService{app: app}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		RunID:      s.app.RunID,
		Stage:      s.app.Stage().String(),
		Components: make(map[string]string),
	}

	if s.app.Extractor != nil {
		status.Components["extractor"] = fmt.Sprintf("ok (%s, %d extensions)",
			s.app.Config.Extract.Backend, len(s.app.Extractor.SupportedExtensions()))
	} else {
		status.Status = "degraded"
		status.Components["extractor"] = "missing"
	}

	s.app.mu.RLock()
	db := s.app.loaded
	s.app.mu.RUnlock()
	if db != nil {
		status.Components["database"] = fmt.Sprintf("ok (%s, %d entries, %d hashes)", db.Mode(), db.EntryCount(), db.HashCount())
	} else if s.app.Stage() == StageDetecting {
		status.Status = "degraded"
		status.Components["database"] = "not loaded"
	}

	if s.app.Stage() == StageCollecting {
		if err := s.app.NewGitFetcher().Available(); err != nil {
			status.Status = "degraded"
			status.Components["git"] = err.Error()
		} else {
			status.Components["git"] = "ok"
		}
	}

	return status
}
