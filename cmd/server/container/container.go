// Package container wires the full request-handling dependency graph for
// cmd/server, following the teacher's cmd/orchestrator/container singleton
// pattern: every repository and service is built once at startup.
package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/common/bootstrap"
	"github.com/lyzr/workflows/internal/broadcast"
	"github.com/lyzr/workflows/internal/compiler"
	"github.com/lyzr/workflows/internal/condition"
	"github.com/lyzr/workflows/internal/credential"
	"github.com/lyzr/workflows/internal/metrics"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/orchestrator"
	"github.com/lyzr/workflows/internal/ratelimit"
	"github.com/lyzr/workflows/internal/registry"
	"github.com/lyzr/workflows/internal/store"
	"github.com/lyzr/workflows/internal/store/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Container holds every initialized service the HTTP handlers depend on.
type Container struct {
	Components *bootstrap.Components
	Redis      *redis.Client

	Store      store.Store
	Registry   *registry.Registry
	Hub        *broadcast.Hub
	RateLimit  *ratelimit.Limiter
	Cipher     *credential.Cipher
	Credential *credential.Manager
	Orch       *orchestrator.Manager
	Metrics    *metrics.Metrics
	MetricsReg *prometheus.Registry
}

// New initializes every component once, in dependency order (bottom-up), the
// way the teacher's NewContainer does for its CAS/artifact/tag/workflow/run
// service chain.
func New(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     components.Config.Redis.Addr(),
		Password: components.Config.Redis.Password,
		DB:       components.Config.Redis.DB,
	})

	pgStore := postgres.New(components.DB)

	reg := registry.New()
	registry.RegisterBuiltins(reg, &http.Client{Timeout: 30 * time.Second}, condition.New())
	reg.Seal()

	mx := metrics.New()
	metricsReg := prometheus.NewRegistry()
	if err := mx.Register(metricsReg); err != nil {
		return nil, fmt.Errorf("container: registering metrics: %w", err)
	}

	hub := broadcast.NewHub(components.Logger).WithMetrics(mx)

	limiter := ratelimit.New(redisClient, components.Logger)

	cipher, err := credential.NewCipher([]byte(components.Config.Auth.CredentialMasterKey))
	if err != nil {
		return nil, fmt.Errorf("container: credential cipher: %w", err)
	}
	credMgr := credential.NewManager(pgStore, cipher, components.Cache)

	lookup := &workflowLookup{store: pgStore, reg: reg}
	orch := orchestrator.New(reg, hub, components.Logger, lookup).WithMetrics(mx)

	return &Container{
		Components: components,
		Redis:      redisClient,
		Store:      pgStore,
		Registry:   reg,
		Hub:        hub,
		RateLimit:  limiter,
		Cipher:     cipher,
		Credential: credMgr,
		Orch:       orch,
		Metrics:    mx,
		MetricsReg: metricsReg,
	}, nil
}

// workflowLookup implements orchestrator.WorkflowLookup by compiling a
// workflow's latest persisted version on demand, so sub-workflow nodes never
// need their own copy of the compiler.
type workflowLookup struct {
	store store.WorkflowStore
	reg   *registry.Registry
}

func (l *workflowLookup) CompiledPlan(ctx context.Context, workflowID uuid.UUID) (*model.ExecutionPlan, error) {
	version, err := l.store.LatestWorkflowVersion(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("workflow lookup: %w", err)
	}
	result := compiler.Compile(compiler.Input{
		Nodes:    version.Nodes,
		Edges:    version.Edges,
		Settings: model.WorkflowSettings{},
	}, l.reg)
	if !result.Success {
		return nil, fmt.Errorf("workflow lookup: sub-workflow %s does not compile", workflowID)
	}
	return result.ExecutionPlan, nil
}

// CredentialProvider adapts credential.Manager to orchestrator.CredentialProvider,
// resolving every credential ID a workflow's nodes reference and keying the
// merged map the same way internal/registry's http handler reads it.
type CredentialProvider struct {
	Mgr *credential.Manager
}

func (p *CredentialProvider) Resolve(ctx context.Context, userID string, credentialIDs []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(credentialIDs))
	for _, idStr := range credentialIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		fields, err := p.Mgr.Resolve(ctx, userID, id)
		if err != nil {
			return nil, fmt.Errorf("resolve credential %s: %w", idStr, err)
		}
		out[idStr] = fields
	}
	return out, nil
}
