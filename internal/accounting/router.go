package accounting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nexledger/ledgerd/internal/knowledge"
	"github.com/nexledger/ledgerd/internal/resilience"
)

// Reasoner is the external L2 reasoning provider, reached only through the
// egress proxy (spec §4.4: "All L2 input is pushed through the
// EgressProxy"). The concrete implementation lives in internal/egress; this
// package depends only on the interface so it can be tested without a
// network call.
type Reasoner interface {
	Reason(ctx context.Context, prompt string, stepCap int) (Decision, int, error)
}

// Decision is L2's structured output.
type Decision struct {
	Category       string
	ReasoningGraph []InferenceStep
	Confidence     float64
}

// RouterConfig mirrors internal/config.AccountingConfig's fields relevant
// to routing.
type RouterConfig struct {
	L2Enabled             bool
	L2StepCap             int
	L1ConfidenceBand      float64
	LowConfidenceUpgradeN int
	CacheSize             int
	CacheTTL              time.Duration
}

// vendorCooldown tracks consecutive low-confidence L1 outcomes per vendor,
// the trigger for "routing table has forced a vendor/topic upgrade" (§4.4).
type vendorCooldown struct {
	mu     sync.Mutex
	counts map[string]int
}

func newVendorCooldown() *vendorCooldown {
	return &vendorCooldown{counts: map[string]int{}}
}

func (c *vendorCooldown) recordLowConfidence(vendor string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[vendor]++
	return c.counts[vendor]
}

func (c *vendorCooldown) reset(vendor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, vendor)
}

type cacheEntry struct {
	decision Decision
	cachedAt time.Time
}

// Router implements classify(doc) -> proposal: L1 rule match first, L2
// reason-act loop on miss or forced upgrade, behind a circuit breaker and a
// response cache.
type Router struct {
	cfg      RouterConfig
	bridge   *knowledge.Bridge
	reasoner Reasoner
	breaker  *resilience.CircuitBreaker
	cooldown *vendorCooldown
	cache    *lru.Cache[string, cacheEntry]
	daily    *TokenBudget
	monthly  *TokenBudget
}

// NewRouter wires a Router. onBreakerStateChange may be nil.
func NewRouter(cfg RouterConfig, bridge *knowledge.Bridge, reasoner Reasoner, daily, monthly *TokenBudget, onBreakerStateChange func(from, to resilience.State)) *Router {
	size := cfg.CacheSize
	if size <= 0 {
		size = 2048
	}
	cache, _ := lru.New[string, cacheEntry](size)

	return &Router{
		cfg:      cfg,
		bridge:   bridge,
		reasoner: reasoner,
		breaker:  resilience.New(resilience.StrictBreakerConfig(onBreakerStateChange)),
		cooldown: newVendorCooldown(),
		cache:    cache,
		daily:    daily,
		monthly:  monthly,
	}
}

// Classify implements the public classify(doc) -> proposal contract.
func (r *Router) Classify(ctx context.Context, doc Document) Proposal {
	log := []InferenceStep{{Stage: "input_analysis", Detail: map[string]interface{}{"vendor": doc.Vendor, "amount": doc.AmountAbs}}}

	if rule := r.bridge.MatchFirst(ctx, doc.Vendor, doc.AmountAbs, nil); rule != nil {
		log = append(log, InferenceStep{Stage: "rule_match", Detail: map[string]interface{}{"rule_id": rule.RuleID, "priority": rule.Priority}})

		confidence := r.confidenceFor(rule.AuditLevel)
		requiresShadow := knowledge.AuditLevel(rule.AuditLevel) == knowledge.LevelGray || confidence < r.cfg.L1ConfidenceBand

		if requiresShadow {
			n := r.cooldown.recordLowConfidence(doc.Vendor)
			if n < r.cfg.LowConfidenceUpgradeN || !r.cfg.L2Enabled {
				return Proposal{
					Category:            rule.ProposedCategory,
					Confidence:          confidence,
					MatchedRule:         rule.RuleID,
					InferenceLog:        log,
					RequiresShadowAudit: true,
				}
			}
			log = append(log, InferenceStep{Stage: "routing", Detail: map[string]interface{}{"reason": "low_confidence_upgrade", "consecutive": n}})
		} else {
			r.cooldown.reset(doc.Vendor)
			return Proposal{
				Category:     rule.ProposedCategory,
				Confidence:   confidence,
				MatchedRule:  rule.RuleID,
				InferenceLog: log,
			}
		}
	} else {
		log = append(log, InferenceStep{Stage: "routing", Detail: map[string]interface{}{"reason": "no_rule_match"}})
	}

	if !r.cfg.L2Enabled {
		return Proposal{Category: "", Confidence: 0, InferenceLog: log, RequiresShadowAudit: true}
	}

	decision, ok := r.classifyViaL2(ctx, doc, &log)
	if !ok {
		return Proposal{Category: "", Confidence: 0, InferenceLog: log, RequiresShadowAudit: true}
	}

	r.cooldown.reset(doc.Vendor)
	return Proposal{
		Category:            decision.Category,
		Confidence:          decision.Confidence,
		InferenceLog:        append(log, decision.ReasoningGraph...),
		RequiresShadowAudit: decision.Confidence < r.cfg.L1ConfidenceBand,
	}
}

func (r *Router) confidenceFor(auditLevel string) float64 {
	switch knowledge.AuditLevel(auditLevel) {
	case knowledge.LevelStable, knowledge.LevelManual:
		return 0.95
	case knowledge.LevelGray:
		return 0.6
	default:
		return 0.5
	}
}

// classifyViaL2 invokes the reason-act loop behind the circuit breaker, the
// response cache, and the token budget manager. A false second return means
// the router degraded to "L1-only with needs-review" (breaker open, budget
// exhausted, or the call itself failed).
func (r *Router) classifyViaL2(ctx context.Context, doc Document, log *[]InferenceStep) (Decision, bool) {
	prompt := doc.Vendor + "|" + doc.TraceID
	key := cacheKey(prompt)

	if entry, ok := r.cache.Get(key); ok {
		if r.cfg.CacheTTL <= 0 || time.Since(entry.cachedAt) < r.cfg.CacheTTL {
			*log = append(*log, InferenceStep{Stage: "l2_cache_hit"})
			return entry.decision, true
		}
		r.cache.Remove(key)
	}

	const estimatedTokens = 500
	if !r.daily.Allow(estimatedTokens) || !r.monthly.Allow(estimatedTokens) {
		*log = append(*log, InferenceStep{Stage: "l2_skipped", Detail: map[string]interface{}{"reason": "budget_exhausted"}})
		return Decision{}, false
	}

	var decision Decision
	err := r.breaker.Execute(ctx, func() error {
		d, _, rerr := r.reasoner.Reason(ctx, prompt, r.cfg.L2StepCap)
		if rerr != nil {
			return rerr
		}
		decision = d
		return nil
	})
	if err != nil {
		*log = append(*log, InferenceStep{Stage: "l2_failed", Detail: map[string]interface{}{"error": err.Error()}})
		return Decision{}, false
	}

	r.cache.Add(key, cacheEntry{decision: decision, cachedAt: time.Now()})
	*log = append(*log, InferenceStep{Stage: "l2_reasoning"})
	return decision, true
}

func cacheKey(prompt string) string {
	h := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(h[:])
}
