// Package egress implements the EgressProxy: the single choke point any
// outgoing inference request must pass through (spec §4.7). It is the
// concrete internal/accounting.Reasoner used by the AccountingAgent's L2
// tier.
package egress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nexledger/ledgerd/internal/accounting"
	"github.com/nexledger/ledgerd/internal/apperrors"
	"github.com/nexledger/ledgerd/internal/config"
	"github.com/nexledger/ledgerd/internal/privacy"
	"github.com/nexledger/ledgerd/internal/resilience"
	"github.com/nexledger/ledgerd/pkg/logger"
	"github.com/nexledger/ledgerd/pkg/tracectx"
	"github.com/nexledger/ledgerd/pkg/version"
)

// Budget is the subset of internal/accounting.TokenBudget the proxy needs;
// expressed as an interface so this package and accounting don't need a
// shared import cycle for the concrete type.
type Budget interface {
	Allow(n int) bool
}

// Proxy is the EgressProxy. It sanitizes every payload through PrivacyGuard,
// enforces the destination allowlist, attaches trace and worker identity
// metadata, and short-circuits once the token budget is exhausted.
type Proxy struct {
	cfg        config.EgressConfig
	guard      *privacy.Guard
	httpClient *http.Client
	endpoint   string
	workerName string
	budget     Budget
	log        *logger.Logger
}

// New wires an EgressProxy. endpoint is the sole reasoning destination this
// daemon is configured to call; it must resolve to a host present in
// cfg.Allowlist or every call fails closed.
func New(cfg config.EgressConfig, guard *privacy.Guard, endpoint, workerName string, budget Budget, log *logger.Logger) *Proxy {
	timeout := time.Duration(cfg.RequestTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Proxy{
		cfg:        cfg,
		guard:      guard,
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		workerName: workerName,
		budget:     budget,
		log:        log,
	}
}

type reasonRequest struct {
	Prompt     string `json:"prompt"`
	StepCap    int    `json:"step_cap"`
	TraceID    string `json:"trace_id"`
	WorkerName string `json:"worker_name"`
}

type reasonResponse struct {
	Category       string                     `json:"category"`
	Confidence     float64                    `json:"confidence"`
	TokensUsed     int                        `json:"tokens_used"`
	ReasoningGraph []accounting.InferenceStep `json:"reasoning_graph"`
}

// Reason implements internal/accounting.Reasoner. It is the only path by
// which a prompt derived from ledger data reaches an external process.
func (p *Proxy) Reason(ctx context.Context, prompt string, stepCap int) (accounting.Decision, int, error) {
	if !p.allowedDestination() {
		return accounting.Decision{}, 0, apperrors.New(apperrors.KindPolicy, p.endpoint, fmt.Errorf("egress: destination not on allow list"))
	}

	if p.budget != nil && !p.budget.Allow(1) {
		return accounting.Decision{}, 0, apperrors.New(apperrors.KindPolicy, p.workerName, apperrors.ErrBudgetExhausted)
	}

	sanitized, categories := p.guard.Sanitize(prompt)
	if len(categories) > 0 {
		p.log.WithTrace(ctx).WithField("categories", categories).Info("egress: redacted sensitive content before dispatch")
	}

	traceID, _ := tracectx.TraceID(ctx)
	reqBody, err := json.Marshal(reasonRequest{
		Prompt:     sanitized,
		StepCap:    stepCap,
		TraceID:    traceID,
		WorkerName: p.workerName,
	})
	if err != nil {
		return accounting.Decision{}, 0, err
	}

	var parsed reasonResponse
	err = resilience.Retry(ctx, resilience.EgressPreset(), func() error {
		return p.dispatch(ctx, reqBody, &parsed)
	})
	if err != nil {
		return accounting.Decision{}, 0, apperrors.New(apperrors.KindTransient, p.endpoint, err)
	}

	return accounting.Decision{
		Category:       parsed.Category,
		Confidence:     parsed.Confidence,
		ReasoningGraph: parsed.ReasoningGraph,
	}, parsed.TokensUsed, nil
}

func (p *Proxy) dispatch(ctx context.Context, body []byte, out *reasonResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("egress: remote returned %d: %s", resp.StatusCode, string(payload))
	}
	if resp.StatusCode >= 400 {
		return apperrors.New(apperrors.KindPolicy, p.endpoint, fmt.Errorf("egress: remote rejected request with %d: %s", resp.StatusCode, string(payload)))
	}

	return json.Unmarshal(payload, out)
}

func (p *Proxy) allowedDestination() bool {
	if len(p.cfg.Allowlist) == 0 {
		return false
	}
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return false
	}
	for _, allowed := range p.cfg.Allowlist {
		if strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}
