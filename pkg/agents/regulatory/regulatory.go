// Package regulatory is the agent that checks subjects against rule sets.
// Requests arrive on regulation.check; outcomes are kept in memory and
// published on regulation.result correlated to the request.
package regulatory

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/sylva/pkg/agent"
	"github.com/harun/sylva/pkg/bus"
	"github.com/harun/sylva/pkg/memory"
	"github.com/harun/sylva/pkg/rules"
	"github.com/rs/zerolog"
)

const (
	Name        = "regulatory"
	CheckTopic  = "regulation.check"
	ResultTopic = "regulation.result"
	taskType    = "check"

	DefaultResultTTL = 24 * time.Hour
)

const requestSchema = `{
  "type": "object",
  "required": ["subject_id", "facts"],
  "properties": {
    "subject_id": {"type": "string", "minLength": 1},
    "rule_set": {"type": "string"},
    "facts": {"type": "object"}
  }
}`

// Request asks for a subject to be checked. An empty RuleSet checks every
// loaded set.
type Request struct {
	SubjectID string         `json:"subject_id"`
	RuleSet   string         `json:"rule_set,omitempty"`
	Facts     map[string]any `json:"facts"`
}

// Result is the outcome of one check.
type Result struct {
	SubjectID string          `json:"subject_id"`
	RuleSet   string          `json:"rule_set,omitempty"`
	Compliant bool            `json:"compliant"`
	Findings  []rules.Finding `json:"findings"`
	Errors    []string        `json:"errors,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
}

// Config configures the checker.
type Config struct {
	// ResultTTL bounds how long results stay in memory. Zero uses
	// DefaultResultTTL; a negative value keeps them forever.
	ResultTTL   time.Duration
	StopTimeout time.Duration
	Logger      zerolog.Logger
}

// Checker wires an agent to the rule engine and shared memory.
type Checker struct {
	agent  *agent.Agent
	engine *rules.Engine
	mem    *memory.AgentMemory
	ttl    time.Duration
	logger zerolog.Logger
}

// ResultKey is the memory key holding the latest result for subject.
func ResultKey(subject string) string {
	return "regulation:" + subject
}

// New builds the checker and subscribes it to CheckTopic. The agent is not
// started.
func New(cfg Config, b *bus.MessageBus, mem *memory.AgentMemory, engine *rules.Engine) (*Checker, error) {
	ttl := cfg.ResultTTL
	if ttl == 0 {
		ttl = DefaultResultTTL
	}

	c := &Checker{
		engine: engine,
		mem:    mem,
		ttl:    ttl,
		logger: cfg.Logger.With().Str("component", "regulatory").Logger(),
	}

	schemas := bus.NewSchemaRegistry()
	if err := schemas.Register(CheckTopic, requestSchema); err != nil {
		return nil, err
	}

	c.agent = agent.New(agent.Config{
		Name:        Name,
		ResultTopic: ResultTopic,
		StopTimeout: cfg.StopTimeout,
		Logger:      cfg.Logger,
	}, b)
	c.agent.Handle(taskType, c.handle)
	if err := c.agent.Subscribe(CheckTopic, agent.ValidatedTask(schemas, taskType)); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", CheckTopic, err)
	}
	return c, nil
}

// Agent returns the underlying agent for lifecycle control.
func (c *Checker) Agent() *agent.Agent { return c.agent }

// Check evaluates req without touching memory or the bus.
func (c *Checker) Check(req Request) Result {
	res := Result{
		SubjectID: req.SubjectID,
		RuleSet:   req.RuleSet,
		CheckedAt: time.Now().UTC(),
	}

	var (
		findings []rules.Finding
		err      error
	)
	if req.RuleSet == "" {
		findings, err = c.engine.Evaluate(rules.Facts(req.Facts))
	} else {
		findings, err = c.engine.EvaluateSet(req.RuleSet, rules.Facts(req.Facts))
	}
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
	}

	res.Findings = findings
	if res.Findings == nil {
		res.Findings = []rules.Finding{}
	}
	res.Compliant = err == nil
	for _, f := range findings {
		if f.Severity == rules.SeverityViolation {
			res.Compliant = false
		}
	}
	return res
}

func (c *Checker) handle(ctx context.Context, task agent.Task) (bus.Payload, error) {
	var req Request
	if err := bus.Decode(task.Payload, &req); err != nil {
		return nil, err
	}

	res := c.Check(req)
	if !task.Source.IsZero() {
		res.RequestID = task.Source.ID()
	}

	if err := c.mem.Set(ctx, ResultKey(req.SubjectID), res, c.ttl); err != nil {
		// the published result still reaches subscribers
		c.logger.Error().Err(err).Str("subject", req.SubjectID).Msg("Failed to store result")
	}

	c.logger.Info().
		Str("subject", req.SubjectID).
		Bool("compliant", res.Compliant).
		Int("findings", len(res.Findings)).
		Msg("Subject checked")

	return bus.Encode(res)
}

// LastResult returns the stored result for subject, or memory.ErrNotFound.
func (c *Checker) LastResult(ctx context.Context, subject string) (Result, error) {
	var res Result
	if err := c.mem.Decode(ctx, ResultKey(subject), &res); err != nil {
		return Result{}, err
	}
	return res, nil
}
