package usecases

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/samirrijal/geoar/internal/core/domain"
	"github.com/samirrijal/geoar/internal/pkg/metrics"
	"github.com/samirrijal/geoar/internal/pkg/schema"
)

// AgentParser is the boundary between loosely typed feed records and the
// core. Records that fail validation are rejected individually.
type AgentParser struct {
	validator *schema.Validator
	now       func() time.Time
	logger    *slog.Logger
}

// NewAgentParser creates an AgentParser using the agent record schema.
func NewAgentParser(logger *slog.Logger) (*AgentParser, error) {
	v, err := schema.NewAgentRecordValidator()
	if err != nil {
		return nil, fmt.Errorf("agent schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentParser{validator: v, now: time.Now, logger: logger.With("component", "parser")}, nil
}

// RecordError ties a rejection to the record position in the payload.
type RecordError struct {
	Index int
	ID    string
	Err   error
}

func (e *RecordError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("record %d (%s): %v", e.Index, e.ID, e.Err)
	}
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Decode parses a payload holding a JSON array of records, a single record
// or an object with an "agents" array. The error is non-nil only when the
// payload itself is unusable; per-record problems are returned in rejected.
func (p *AgentParser) Decode(data []byte) (agents []domain.TrackedAgent, rejected []error, err error) {
	raws, err := splitRecords(data)
	if err != nil {
		return nil, nil, err
	}

	agents = make([]domain.TrackedAgent, 0, len(raws))
	for i, raw := range raws {
		agent, err := p.ParseRecord(raw)
		if err != nil {
			var probe struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(raw, &probe)
			rejected = append(rejected, &RecordError{Index: i, ID: probe.ID, Err: err})
			continue
		}
		agents = append(agents, agent)
	}
	if len(rejected) > 0 {
		metrics.RecordsRejected.Add(float64(len(rejected)))
		p.logger.Warn("rejected agent records", "rejected", len(rejected), "accepted", len(agents))
	}
	return agents, rejected, nil
}

// ParseRecord validates and converts one raw record.
func (p *AgentParser) ParseRecord(raw json.RawMessage) (domain.TrackedAgent, error) {
	if err := p.validator.ValidateBytes(raw); err != nil {
		return domain.TrackedAgent{}, &domain.ValidationError{Field: "record", Reason: err.Error()}
	}
	var rec domain.AgentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.TrackedAgent{}, &domain.ValidationError{Field: "record", Reason: err.Error()}
	}
	agent := p.FromRecord(rec)
	if err := agent.Validate(); err != nil {
		return domain.TrackedAgent{}, err
	}
	return agent, nil
}

// FromRecord converts a schema-valid record, applying defaults.
func (p *AgentParser) FromRecord(rec domain.AgentRecord) domain.TrackedAgent {
	agent := domain.TrackedAgent{
		ID:                     strings.TrimSpace(rec.ID),
		Name:                   rec.Name,
		Type:                   domain.AgentType(rec.Type).Normalize(),
		VisibilityRadiusMeters: domain.DefaultVisibilityRadius,
		ModelRef:               rec.ModelRef,
		Transform:              domain.Transform{Scale: 1},
		Active:                 true,
		UpdatedAt:              p.now(),
	}
	if rec.Latitude != nil {
		agent.Location.Lat = *rec.Latitude
	}
	if rec.Longitude != nil {
		agent.Location.Lon = *rec.Longitude
	}
	if rec.Altitude != nil {
		agent.Location = agent.Location.WithAltitude(*rec.Altitude)
	}
	if rec.VisibilityRadiusMeters != nil {
		agent.VisibilityRadiusMeters = *rec.VisibilityRadiusMeters
	}
	if rec.Active != nil {
		agent.Active = *rec.Active
	}
	if t := rec.Transform; t != nil {
		if t.Scale != nil {
			agent.Transform.Scale = *t.Scale
		}
		if len(t.Rotation) == 3 {
			agent.Transform.Rotation = r3.Vec{X: t.Rotation[0], Y: t.Rotation[1], Z: t.Rotation[2]}
		}
	}
	return agent
}

func splitRecords(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &domain.ValidationError{Field: "payload", Reason: "empty"}
	}
	switch trimmed[0] {
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, &domain.ValidationError{Field: "payload", Reason: err.Error()}
		}
		return raws, nil
	case '{':
		var envelope struct {
			Agents []json.RawMessage `json:"agents"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, &domain.ValidationError{Field: "payload", Reason: err.Error()}
		}
		if envelope.Agents != nil {
			return envelope.Agents, nil
		}
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	default:
		return nil, &domain.ValidationError{Field: "payload", Reason: "expected JSON object or array"}
	}
}
