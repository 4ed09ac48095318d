package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"aura-gateway/internal/models"
	"aura-gateway/internal/util"
)

// Sender delivers one event to the gateway.
type Sender interface {
	SendTelemetry(ctx context.Context, event models.TelemetryEvent) error
}

// Scenario is a canned observation the simulator replays.
type Scenario struct {
	Name       string
	EventType  string
	EndpointID string
	UserID     string
	Context    models.ContextData
}

// DefaultScenarios covers a critical decoy hit, a bulk write anomaly and a
// benign failed login.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{
			Name:       "decoy-access",
			EventType:  models.EventTypeDecoyAccess,
			EndpointID: "HR-LAPTOP-14",
			UserID:     "sara.smith",
			Context: models.ContextData{
				"filePath": models.StringValue(`C:\Windows\system32\decoy\passwords.xlsx`),
				"process":  models.StringValue("explorer.exe"),
				"action":   models.StringValue("READ"),
			},
		},
		{
			Name:       "mass-file-write",
			EventType:  models.EventTypeFileWrite,
			EndpointID: "SRV-FILES-05",
			UserID:     "system_backup_svc",
			Context: models.ContextData{
				"filePath":       models.StringValue(`C:\Users\Public\Share\mass_rename_batch_1.zip`),
				"operationCount": models.IntValue(540),
				"durationMs":     models.IntValue(5000),
			},
		},
		{
			Name:       "auth-fail",
			EventType:  models.EventTypeAuthFail,
			EndpointID: "PC-DEV-03",
			UserID:     "john.doe",
			Context: models.ContextData{
				"sourceIp": models.StringValue("192.168.1.5"),
				"reason":   models.StringValue("WrongPassword"),
				"attempts": models.IntValue(2),
			},
		},
	}
}

// Simulator replays scenarios against the gateway on a fixed interval.
type Simulator struct {
	sender    Sender
	scenarios []Scenario
	interval  time.Duration
	logger    *zap.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewSimulator(sender Sender, scenarios []Scenario, interval time.Duration, logger *zap.Logger) *Simulator {
	if len(scenarios) == 0 {
		scenarios = DefaultScenarios()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		sender:    sender,
		scenarios: scenarios,
		interval:  interval,
		logger:    logger.Named("simulator"),
	}
}

// WithEndpoint pins every scenario to one endpoint id.
func (s *Simulator) WithEndpoint(endpointID string) *Simulator {
	if endpointID == "" {
		return s
	}
	pinned := make([]Scenario, len(s.scenarios))
	for i, sc := range s.scenarios {
		sc.EndpointID = endpointID
		pinned[i] = sc
	}
	s.scenarios = pinned
	return s
}

// RunOnce sends every scenario once, in order. Each send gets a fresh eventId.
func (s *Simulator) RunOnce(ctx context.Context) error {
	var errs []error
	for _, sc := range s.scenarios {
		if err := ctx.Err(); err != nil {
			return err
		}
		event := models.NewTelemetryEvent(sc.EndpointID, sc.UserID, sc.EventType, sc.Context)
		if err := s.sender.SendTelemetry(ctx, event); err != nil {
			s.failed.Add(1)
			s.logger.Warn("Scenario send failed",
				util.String("scenario", sc.Name),
				util.String("event_id", event.EventID),
				util.ErrorField(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", sc.Name, err))
			continue
		}
		s.sent.Add(1)
		s.logger.Info("Scenario sent",
			util.String("scenario", sc.Name),
			util.String("event_id", event.EventID),
			util.String("endpoint_id", event.EndpointID),
		)
	}
	return errors.Join(errs...)
}

// Run replays all scenarios immediately and then on every tick until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("Simulation round had failures", util.ErrorField(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Counts returns the number of successful and failed sends so far.
func (s *Simulator) Counts() (sent, failed uint64) {
	return s.sent.Load(), s.failed.Load()
}
