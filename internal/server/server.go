// Package server exposes the simulation control API over HTTP. It is a thin
// layer over the engine; every handler reads or mutates through the engine's
// public methods, so the API sees the same consistent snapshots as the CLI.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"crewline/internal/domain"
	"crewline/internal/engine"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
}

// New returns an HTTP handler exposing the control API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server requires an engine")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Crewline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerStats(group, cfg.Engine)
	registerAgents(group, cfg.Engine)
	registerContracts(group, cfg.Engine)
	registerInterventions(group, cfg.Engine)
	registerControls(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Simulation status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Status `json:"body"`
	}, error) {
		return &struct {
			Body engine.Status `json:"body"`
		}{Body: e.GetStatus()}, nil
	})
}

func registerStats(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Simulation statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int64 `json:"body"`
	}, error) {
		stats, err := e.GetStats(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("stats unavailable", err)
		}
		return &struct {
			Body map[string]int64 `json:"body"`
		}{Body: stats}, nil
	})
}

func registerAgents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []engine.AgentView `json:"body"`
	}, error) {
		return &struct {
			Body []engine.AgentView `json:"body"`
		}{Body: e.GetStatus().Agents}, nil
	})
}

func registerContracts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-contracts",
		Method:      http.MethodGet,
		Path:        "/contracts",
		Summary:     "List contracts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Contract `json:"body"`
	}, error) {
		return &struct {
			Body []domain.Contract `json:"body"`
		}{Body: e.Contracts()}, nil
	})
}

func registerInterventions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-interventions",
		Method:      http.MethodGet,
		Path:        "/interventions",
		Summary:     "List pending intervention requests",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.InterventionRequest `json:"body"`
	}, error) {
		return &struct {
			Body []domain.InterventionRequest `json:"body"`
		}{Body: e.PendingInterventions()}, nil
	})

	type resolveInput struct {
		RequestID string `path:"request_id"`
		Body      struct {
			Decision string `json:"decision" minLength:"1"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "resolve-intervention",
		Method:      http.MethodPost,
		Path:        "/interventions/{request_id}/resolve",
		Summary:     "Resolve an intervention request",
	}, func(ctx context.Context, input *resolveInput) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		err := e.InjectEvent(domain.HumanInterventionEvent{
			RequestID: input.RequestID,
			Decision:  input.Body.Decision,
		})
		if err != nil {
			return nil, huma.Error503ServiceUnavailable("event queue full", err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "queued", "request_id": input.RequestID}}, nil
	})
}

func registerControls(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "pause",
		Method:      http.MethodPost,
		Path:        "/pause",
		Summary:     "Pause the simulation",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Status `json:"body"`
	}, error) {
		e.Pause()
		return &struct {
			Body engine.Status `json:"body"`
		}{Body: e.GetStatus()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume",
		Method:      http.MethodPost,
		Path:        "/resume",
		Summary:     "Resume the simulation",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Status `json:"body"`
	}, error) {
		e.Resume()
		return &struct {
			Body engine.Status `json:"body"`
		}{Body: e.GetStatus()}, nil
	})

	type speedInput struct {
		Body struct {
			Multiplier float64 `json:"multiplier" minimum:"0.1" maximum:"100"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID: "set-speed",
		Method:      http.MethodPost,
		Path:        "/speed",
		Summary:     "Change tick speed",
	}, func(ctx context.Context, input *speedInput) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if err := e.SetSpeed(input.Body.Multiplier); err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"multiplier": input.Body.Multiplier}}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	type taskInput struct {
		Body struct {
			ID                string              `json:"id,omitempty"`
			Title             string              `json:"title" minLength:"1"`
			Type              string              `json:"type" minLength:"1"`
			Priority          domain.TaskPriority `json:"priority,omitempty" enum:"low,medium,high,urgent"`
			EstimatedDuration float64             `json:"estimated_duration" minimum:"1"`
			CreatorID         string              `json:"creator_id,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{
		OperationID:   "inject-task",
		Method:        http.MethodPost,
		Path:          "/events/tasks",
		Summary:       "Inject a task into the simulation",
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *taskInput) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t := domain.Task{
			ID:                input.Body.ID,
			Title:             input.Body.Title,
			Type:              input.Body.Type,
			Priority:          input.Body.Priority,
			Status:            domain.TaskPending,
			EstimatedDuration: input.Body.EstimatedDuration,
			CreatorID:         input.Body.CreatorID,
		}
		if t.ID == "" {
			t.ID = "task-" + uuid.NewString()[:8]
		}
		if t.Priority == "" {
			t.Priority = domain.PriorityMedium
		}
		if err := e.InjectEvent(domain.NewTaskEvent{Task: t}); err != nil {
			return nil, huma.Error503ServiceUnavailable("event queue full", err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	type scenarioInput struct {
		ScenarioID string `path:"scenario_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID:   "trigger-scenario",
		Method:        http.MethodPost,
		Path:          "/events/scenarios/{scenario_id}",
		Summary:       "Fire a named scripted scenario event",
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *scenarioInput) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.TriggerScenario(input.ScenarioID); err != nil {
			return nil, huma.Error404NotFound(err.Error())
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "queued", "scenario_id": input.ScenarioID}}, nil
	})
}
