// Package decay estimates how likely a page is to become unreachable.
//
// The score is a fixed-weight heuristic over independent signals, not a
// trained model:
//
//	0.45*domainAge + 0.35*certExpiry + 0.15*hostReputation + truncationBonus
//
// clamped to [0, 1]. Each signal falls back to a documented value when its
// lookup fails, so a single failure never aborts scoring.
package decay

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/doc-freshness/internal/ingest"
	"github.com/JakeFAU/doc-freshness/internal/metrics"
)

// Signal weights.
const (
	weightDomainAge  = 0.45
	weightCertExpiry = 0.35
	weightHostRep    = 0.15
	truncationBonus  = 0.2
)

// RegistrationLookup returns when a host's domain was registered.
type RegistrationLookup interface {
	CreatedAt(ctx context.Context, host string) (time.Time, error)
}

// CertificateLookup returns when a host's TLS certificate expires.
type CertificateLookup interface {
	NotAfter(ctx context.Context, host string) (time.Time, error)
}

// Breakdown is a score with the signals that produced it.
type Breakdown struct {
	DomainAge       Signal  `json:"domain_age"`
	CertExpiry      Signal  `json:"cert_expiry"`
	HostReputation  Signal  `json:"host_reputation"`
	TruncationBonus float64 `json:"truncation_bonus"`
	Score           float64 `json:"score"`
	// Neutral is set when the URL could not be scored at all.
	Neutral bool `json:"neutral"`
}

// Scorer combines the decay signals.
type Scorer struct {
	registrations RegistrationLookup
	certificates  CertificateLookup
	freeHosts     []string
	clock         ingest.Clock
	logger        *zap.Logger
}

// NewScorer creates a Scorer. An empty freeHosts selects DefaultFreeHosts.
func NewScorer(
	registrations RegistrationLookup,
	certificates CertificateLookup,
	freeHosts []string,
	clock ingest.Clock,
	logger *zap.Logger,
) *Scorer {
	if len(freeHosts) == 0 {
		freeHosts = DefaultFreeHosts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		registrations: registrations,
		certificates:  certificates,
		freeHosts:     freeHosts,
		clock:         clock,
		logger:        logger,
	}
}

// Score returns the decay probability for url. It never fails; when nothing
// can be computed it returns 0.5.
func (s *Scorer) Score(ctx context.Context, url string, truncated bool) float64 {
	return s.Breakdown(ctx, url, truncated).Score
}

// Breakdown scores url and reports every signal, including which ones fell back.
func (s *Scorer) Breakdown(ctx context.Context, url string, truncated bool) (b Breakdown) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("decay scoring panicked", zap.String("url", url), zap.Any("panic", r))
			b = Breakdown{Score: neutralScore, Neutral: true}
		}
		metrics.ObserveDecayScore(b.Score)
	}()

	host := ingest.Hostname(url)
	if host == "" {
		s.logger.Warn("decay scoring without host; using neutral score", zap.String("url", url))
		return Breakdown{Score: neutralScore, Neutral: true}
	}

	now := s.clock.Now()
	b.DomainAge = s.domainAge(ctx, host, now)
	b.CertExpiry = s.certExpiry(ctx, host, now)
	b.HostReputation = measured(SignalHostRep, hostRisk(host, s.freeHosts))
	if truncated {
		b.TruncationBonus = truncationBonus
	}

	for _, sig := range []Signal{b.DomainAge, b.CertExpiry} {
		if sig.Fallback {
			metrics.ObserveSignalFallback(sig.Name)
			s.logger.Warn("decay signal fell back",
				zap.String("signal", sig.Name),
				zap.String("url", url),
				zap.Float64("value", sig.Value),
				zap.Error(sig.Err),
			)
		}
	}

	b.Score = combine(b)
	return b
}

func (s *Scorer) domainAge(ctx context.Context, host string, now time.Time) Signal {
	if s.registrations == nil {
		return fallback(SignalDomainAge, domainAgeFallback, fmt.Errorf("no registration lookup configured"))
	}
	created, err := s.registrations.CreatedAt(ctx, host)
	if err != nil {
		return fallback(SignalDomainAge, domainAgeFallback, err)
	}
	return measured(SignalDomainAge, domainAgeRisk(created, now))
}

func (s *Scorer) certExpiry(ctx context.Context, host string, now time.Time) Signal {
	if s.certificates == nil {
		return fallback(SignalCertExpiry, certExpiryFallback, fmt.Errorf("no certificate lookup configured"))
	}
	notAfter, err := s.certificates.NotAfter(ctx, host)
	if err != nil {
		return fallback(SignalCertExpiry, certExpiryFallback, err)
	}
	return measured(SignalCertExpiry, certExpiryRisk(notAfter, now))
}

func combine(b Breakdown) float64 {
	score := weightDomainAge*b.DomainAge.Value +
		weightCertExpiry*b.CertExpiry.Value +
		weightHostRep*b.HostReputation.Value +
		b.TruncationBonus
	if math.IsNaN(score) {
		return neutralScore
	}
	return math.Min(1, math.Max(0, score))
}
