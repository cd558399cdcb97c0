package controller

import (
	"context"
	"math/rand"
	"strings"

	"github.com/tasksched/controller/internal/config"
	"github.com/tasksched/controller/internal/db"
	"github.com/tasksched/controller/internal/events"
	"github.com/tasksched/controller/internal/orchestrator"
	"github.com/tasksched/controller/internal/scheduler"
)

// Executor is the process-wide singleton shared by all five subsystems plus
// the VNC Workspace Manager. It is constructed once at program start and
// injected into every subsystem explicitly, per spec §9's guidance to avoid
// hidden global mutable state.
type Executor struct {
	Config config.Config

	Templates     *db.TemplateDB
	Tasks         *db.TaskDB
	Workspaces    *db.WorkspaceDB
	VNCWorkspaces *db.VNCWorkspaceDB

	Orchestrator *orchestrator.Client
	Scheduler    *scheduler.Scheduler
	Events       *events.Publisher
	Users        UserLookup
}

// NewExecutor wires the shared database handles, orchestrator client,
// scheduler, event publisher, and user lookup into a single Executor.
func NewExecutor(cfg config.Config, database *db.Database, orch *orchestrator.Client, pub *events.Publisher, users UserLookup) *Executor {
	e := &Executor{
		Config:        cfg,
		Templates:     db.NewTemplateDB(database.DB()),
		Tasks:         db.NewTaskDB(database.DB()),
		Workspaces:    db.NewWorkspaceDB(database.DB()),
		VNCWorkspaces: db.NewVNCWorkspaceDB(database.DB()),
		Orchestrator:  orch,
		Events:        pub,
		Users:         users,
	}
	e.Scheduler = scheduler.New(func(templateUUID string) {
		e.ReconcilePool(e.backgroundContext(), templateUUID)
	}, cfg.DaemonWorkers)
	return e
}

func (e *Executor) backgroundContext() context.Context {
	return context.Background()
}

const shortUUIDLen = 8

// shortUUID returns a short, human-scannable prefix of a uuid, used when
// composing pod names; mirrors the original system's get_short_uuid helper.
func shortUUID(uuid string) string {
	id := strings.ReplaceAll(uuid, "-", "")
	if len(id) > shortUUIDLen {
		return id[:shortUUIDLen]
	}
	return id
}

const randSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randSuffix generates a short random suffix for pod/deployment names so
// repeated pool expansions never collide.
func randSuffix() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = randSuffixAlphabet[rand.Intn(len(randSuffixAlphabet))]
	}
	return string(b)
}
