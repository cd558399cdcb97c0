// Package events provides an optional NATS publisher for task and lease
// lifecycle notifications. Disabled gracefully when NATS_URL is unset,
// matching the disabled-if-unconfigured pattern of the teacher's
// internal/events/subscriber.go.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tasksched/controller/internal/logger"
)

// Subjects published by the controller.
const (
	SubjectTaskStatus      = "task_controller.task.status"
	SubjectWorkspaceLeased = "task_controller.workspace.leased"
	SubjectWorkspaceFreed  = "task_controller.workspace.freed"
)

// Config configures the optional NATS connection.
type Config struct {
	URL      string
	User     string
	Password string
}

// TaskStatusEvent is published whenever the Job Watcher changes a task's
// status.
type TaskStatusEvent struct {
	TaskUUID     string `json:"task_uuid"`
	TemplateUUID string `json:"template_uuid"`
	Status       string `json:"status"`
	Timestamp    int64  `json:"timestamp"`
}

// WorkspaceEvent is published on lease and release of a Workspace.
type WorkspaceEvent struct {
	TemplateUUID string `json:"template_uuid"`
	UserUUID     string `json:"user_uuid"`
	PodName      string `json:"pod_name,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// Publisher publishes controller lifecycle events to NATS.
type Publisher struct {
	conn    *nats.Conn
	enabled bool
}

// NewPublisher connects to NATS, or returns a disabled publisher if
// cfg.URL is empty or the connection fails.
func NewPublisher(cfg Config) (*Publisher, error) {
	log := logger.Log
	if cfg.URL == "" {
		log.Warn().Msg("NATS_URL not configured, event publishing disabled")
		return &Publisher{enabled: false}, nil
	}

	opts := []nats.Option{
		nats.Name("task-controller"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS publisher disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS publisher reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Warn().Err(err).Msg("NATS publisher error")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("failed to connect to NATS, event publishing disabled")
		return &Publisher{enabled: false}, nil
	}

	log.Info().Str("url", conn.ConnectedUrl()).Msg("connected to NATS")
	return &Publisher{conn: conn, enabled: true}, nil
}

// IsEnabled reports whether the publisher is actually connected.
func (p *Publisher) IsEnabled() bool {
	return p.enabled
}

// Close drains and closes the NATS connection, if any.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
		p.conn.Close()
	}
}

// PublishTaskStatus publishes a task status transition. A no-op, non-error
// when disabled.
func (p *Publisher) PublishTaskStatus(event TaskStatusEvent) error {
	return p.publish(SubjectTaskStatus, event)
}

// PublishWorkspaceLeased publishes a workspace lease event.
func (p *Publisher) PublishWorkspaceLeased(event WorkspaceEvent) error {
	return p.publish(SubjectWorkspaceLeased, event)
}

// PublishWorkspaceFreed publishes a workspace release event.
func (p *Publisher) PublishWorkspaceFreed(event WorkspaceEvent) error {
	return p.publish(SubjectWorkspaceFreed, event)
}

func (p *Publisher) publish(subject string, event interface{}) error {
	if !p.enabled {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
