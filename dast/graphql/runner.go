package graphql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mqxerror/qa-guardian/dast/model"
	"github.com/mqxerror/qa-guardian/dast/postgres"
)

// ErrGraphQLScanNotFound: the GraphQL scan id does not exist.
var ErrGraphQLScanNotFound = errors.New("graphql scan not found")

// ConfigError rejects a scan config before any record is created.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "invalid graphql scan config: " + e.Reason }

// Introspector fetches the operation schema of a GraphQL endpoint.
type Introspector interface {
	Introspect(ctx context.Context, endpoint, authHeader string) (*model.GraphQLSchema, error)
}

// Runner owns the lifecycle of GraphQL scans: introspect the endpoint,
// analyze every operation, aggregate a summary.
type Runner struct {
	repo         *postgres.Repository
	introspector Introspector

	mu     sync.Mutex
	active map[string]struct{} // running scan IDs
}

func NewRunner(repo *postgres.Repository, introspector Introspector) *Runner {
	return &Runner{
		repo:         repo,
		introspector: introspector,
		active:       make(map[string]struct{}),
	}
}

func validateConfig(cfg model.GraphQLScanConfig) error {
	if cfg.Endpoint == "" {
		return &ConfigError{Reason: "endpoint is required"}
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigError{Reason: fmt.Sprintf("endpoint %q must be an absolute http or https URL", cfg.Endpoint)}
	}
	return nil
}

// Start validates the config, creates the scan record and runs the
// analysis in the background. No record is created for invalid input.
func (r *Runner) Start(ctx context.Context, cfg model.GraphQLScanConfig) (*model.GraphQLScan, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	s := model.GraphQLScan{
		ID:        uuid.New().String(),
		Config:    cfg,
		Status:    model.GraphQLStatusIntrospecting,
		StartedAt: time.Now().UTC(),
		Progress: model.GraphQLProgress{
			Phase:      string(model.GraphQLStatusIntrospecting),
			Percentage: 0,
		},
	}
	if err := r.repo.CreateGraphQLScan(&s); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.active[s.ID] = struct{}{}
	r.mu.Unlock()

	go r.run(s)

	result := s
	return &result, nil
}

// run drives one scan to a terminal state. It is the only writer for its
// record.
func (r *Runner) run(s model.GraphQLScan) {
	defer func() {
		r.mu.Lock()
		delete(r.active, s.ID)
		r.mu.Unlock()
	}()

	ctx := context.Background()

	schema, err := r.introspector.Introspect(ctx, s.Config.Endpoint, s.Config.AuthHeader)
	if err != nil {
		r.fail(&s, err)
		return
	}
	s.Schema = schema
	s.Status = model.GraphQLStatusScanning
	s.Progress = model.GraphQLProgress{Phase: string(model.GraphQLStatusScanning), Percentage: 20}
	r.save(&s)

	total := len(schema.Operations)
	for i, op := range schema.Operations {
		if op.Type == model.OperationMutation && !s.Config.IncludeMutations {
			s.OperationTests = append(s.OperationTests, model.OperationTest{
				OperationName: op.Name,
				Status:        "skipped",
			})
			continue
		}

		findings := AnalyzeOperation(op)
		for j := range findings {
			findings[j].GraphQLScanID = s.ID
			if err := r.repo.AppendGraphQLFinding(&findings[j]); err != nil {
				slog.Error("Failed to persist graphql finding", "scan_id", s.ID, "operation", op.Name, "error", err)
			}
		}
		s.Findings = append(s.Findings, findings...)
		s.OperationTests = append(s.OperationTests, model.OperationTest{
			OperationName: op.Name,
			Status:        "tested",
			FindingCount:  len(findings),
		})

		// Scanning spans 20-95, split evenly over the operations.
		s.Progress = model.GraphQLProgress{
			Phase:            string(model.GraphQLStatusScanning),
			Percentage:       20 + (i+1)*75/total,
			CurrentOperation: op.Name,
		}
		r.save(&s)
	}

	if s.Config.UseIntrospection {
		f := model.GraphQLFinding{
			GraphQLScanID: s.ID,
			Name:          "Introspection Enabled",
			Risk:          model.RiskInformational,
			Description:   "The endpoint exposes its full schema via introspection. Disable introspection in production to reduce attack surface discovery.",
		}
		if err := r.repo.AppendGraphQLFinding(&f); err != nil {
			slog.Error("Failed to persist graphql finding", "scan_id", s.ID, "error", err)
		}
		s.Findings = append(s.Findings, f)
	}

	summary, err := summarize(s.Findings)
	if err != nil {
		r.fail(&s, err)
		return
	}
	s.Summary = summary

	now := time.Now().UTC()
	s.CompletedAt = &now
	s.Status = model.GraphQLStatusCompleted
	s.Progress = model.GraphQLProgress{Phase: string(model.GraphQLStatusCompleted), Percentage: 100}
	r.save(&s)

	slog.Info("GraphQL scan finished",
		"scan_id", s.ID,
		"endpoint", s.Config.Endpoint,
		"operations", total,
		"findings", len(s.Findings))
}

// summarize counts findings per risk level. GraphQL findings carry no
// confidence, so the confidence buckets stay zero.
func summarize(findings []model.GraphQLFinding) (model.Summary, error) {
	var sum model.Summary
	for _, f := range findings {
		sum.Total++
		switch f.Risk {
		case model.RiskHigh:
			sum.High++
		case model.RiskMedium:
			sum.Medium++
		case model.RiskLow:
			sum.Low++
		case model.RiskInformational:
			sum.Informational++
		default:
			return model.Summary{}, fmt.Errorf("unknown risk level %q on finding %q", f.Risk, f.Name)
		}
	}
	return sum, nil
}

func (r *Runner) fail(s *model.GraphQLScan, err error) {
	now := time.Now().UTC()
	s.CompletedAt = &now
	s.Status = model.GraphQLStatusFailed
	// Preserved verbatim for operator diagnosis.
	s.Error = err.Error()
	s.Progress.Phase = string(model.GraphQLStatusFailed)
	r.save(s)
	slog.Error("GraphQL scan failed", "scan_id", s.ID, "endpoint", s.Config.Endpoint, "error", err)
}

func (r *Runner) save(s *model.GraphQLScan) {
	if err := r.repo.SaveGraphQLScanRecord(s); err != nil {
		slog.Error("Failed to persist graphql scan", "scan_id", s.ID, "error", err)
	}
}

// Get returns one GraphQL scan with its findings.
func (r *Runner) Get(id string) (*model.GraphQLScan, error) {
	s, err := r.repo.GetGraphQLScan(id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, ErrGraphQLScanNotFound
		}
		return nil, err
	}
	return s, nil
}

// List returns recent GraphQL scans, newest first.
func (r *Runner) List(limit int) ([]model.GraphQLScan, error) {
	return r.repo.ListGraphQLScans(limit)
}

// SimulatedIntrospector returns a fixed schema for development and tests,
// shaped like a small user-management API.
type SimulatedIntrospector struct {
	// Delay throttles introspection so progress is observable in dev.
	Delay time.Duration
}

func (si *SimulatedIntrospector) Introspect(ctx context.Context, endpoint, authHeader string) (*model.GraphQLSchema, error) {
	if si.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(si.Delay):
		}
	}
	return &model.GraphQLSchema{
		Operations: []model.GraphQLOperation{
			{Name: "users", Type: model.OperationQuery, ReturnType: "User", ReturnsList: true,
				Args: []model.GraphQLArgument{{Name: "limit", Type: "Int"}}},
			{Name: "user", Type: model.OperationQuery, ReturnType: "User",
				Args: []model.GraphQLArgument{{Name: "id", Type: "ID!", Required: true}}},
			{Name: "searchUsers", Type: model.OperationQuery, ReturnType: "User", ReturnsList: true,
				Args: []model.GraphQLArgument{{Name: "query", Type: "String"}}},
			{Name: "login", Type: model.OperationMutation, ReturnType: "AuthPayload",
				Args: []model.GraphQLArgument{
					{Name: "username", Type: "String!", Required: true},
					{Name: "password", Type: "String!", Required: true},
				}},
			{Name: "deleteUser", Type: model.OperationMutation, ReturnType: "Boolean",
				Args: []model.GraphQLArgument{{Name: "id", Type: "ID!", Required: true}}},
		},
		Types: []model.GraphQLTypeDef{
			{Name: "User", Kind: "OBJECT", Fields: []string{"id", "username", "email"}},
			{Name: "AuthPayload", Kind: "OBJECT", Fields: []string{"token", "user"}},
		},
	}, nil
}
