// Package antibot classifies fetched pages against known anti-bot
// countermeasure signals and waits out pending challenges.
package antibot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeline/scrapeline/internal/metrics"
	"github.com/scrapeline/scrapeline/internal/retryutil"
)

// Verdict is the classification of a fetched page.
type Verdict string

const (
	// VerdictClean means the page content is real.
	VerdictClean Verdict = "clean"
	// VerdictChallenge means an interstitial challenge is still resolving.
	VerdictChallenge Verdict = "challenge-pending"
	// VerdictHardBlock means the requesting identity is denied outright.
	VerdictHardBlock Verdict = "hard-block"
)

// ErrHardBlock is raised when a page matches a hard-block indicator. It is
// fatal to the run; recovery requires operator intervention (IP/proxy
// rotation), never an automatic retry.
var ErrHardBlock = errors.New("anti-bot hard block detected")

// ErrChallengeTimeout is returned when a challenge never resolves within the
// configured window. The attempt is treated like a hard block but remains
// retryable at the orchestrator level with a fresh session.
var ErrChallengeTimeout = errors.New("anti-bot challenge did not resolve in time")

// PageSignal is the ephemeral classification result. Consumed immediately;
// never persisted.
type PageSignal struct {
	Verdict    Verdict
	Suspicious bool
	Diagnostic string
}

var defaultHardBlockMarkers = []string{
	"access denied",
	"you have been blocked",
	"ip address has been banned",
	"error 1006",
	"error 1007",
	"error 1008",
}

var defaultChallengeMarkers = []string{
	"just a moment",
	"checking your browser",
	"verifying you are human",
	"verify you are human",
	"ddos protection by",
	"cf-challenge",
	"attention required!",
}

// Detector classifies page text. Safe for concurrent use; classification is
// a pure function over its inputs.
type Detector struct {
	hardBlockMarkers []string
	challengeMarkers []string
	minBodyBytes     int
	logger           *zap.Logger
}

// Config overrides the built-in indicator sets.
type Config struct {
	HardBlockMarkers []string
	ChallengeMarkers []string
	MinBodyBytes     int
}

// NewDetector builds a Detector, falling back to the built-in marker sets
// and a 100-byte minimum body threshold.
func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Detector{
		hardBlockMarkers: cfg.HardBlockMarkers,
		challengeMarkers: cfg.ChallengeMarkers,
		minBodyBytes:     cfg.MinBodyBytes,
		logger:           logger,
	}
	if len(d.hardBlockMarkers) == 0 {
		d.hardBlockMarkers = defaultHardBlockMarkers
	}
	if len(d.challengeMarkers) == 0 {
		d.challengeMarkers = defaultChallengeMarkers
	}
	if d.minBodyBytes <= 0 {
		d.minBodyBytes = 100
	}
	return d
}

// Classify inspects title and body text. First match wins: hard-block
// indicators take precedence regardless of body length, then challenge
// indicators, then the short-body suspicion flag.
func (d *Detector) Classify(title, body string) PageSignal {
	lowerTitle := strings.ToLower(title)
	lowerBody := strings.ToLower(body)

	for _, marker := range d.hardBlockMarkers {
		if strings.Contains(lowerBody, marker) || strings.Contains(lowerTitle, marker) {
			return PageSignal{
				Verdict:    VerdictHardBlock,
				Diagnostic: fmt.Sprintf("hard-block marker %q", marker),
			}
		}
	}
	for _, marker := range d.challengeMarkers {
		if strings.Contains(lowerTitle, marker) || strings.Contains(lowerBody, marker) {
			return PageSignal{
				Verdict:    VerdictChallenge,
				Diagnostic: fmt.Sprintf("challenge marker %q", marker),
			}
		}
	}
	if len(body) < d.minBodyBytes {
		d.logger.Warn("suspiciously short page body",
			zap.String("title", title),
			zap.Int("body_bytes", len(body)),
		)
		return PageSignal{
			Verdict:    VerdictClean,
			Suspicious: true,
			Diagnostic: fmt.Sprintf("body below %d bytes", d.minBodyBytes),
		}
	}
	return PageSignal{Verdict: VerdictClean}
}

// AwaitClean polls refetch at the given interval until the page classifies
// as clean or the timeout elapses. A hard block surfaces as ErrHardBlock; a
// timeout surfaces as ErrChallengeTimeout.
func (d *Detector) AwaitClean(
	ctx context.Context,
	interval, timeout time.Duration,
	refetch func(ctx context.Context) (title, body string, err error),
) error {
	start := time.Now()
	err := retryutil.Poll(ctx, interval, timeout, func(pollCtx context.Context) (bool, error) {
		title, body, err := refetch(pollCtx)
		if err != nil {
			return false, fmt.Errorf("refetch during challenge wait: %w", err)
		}
		signal := d.Classify(title, body)
		switch signal.Verdict {
		case VerdictHardBlock:
			return false, fmt.Errorf("%s: %w", signal.Diagnostic, ErrHardBlock)
		case VerdictChallenge:
			return false, nil
		default:
			return true, nil
		}
	})
	if errors.Is(err, retryutil.ErrPollTimeout) {
		return ErrChallengeTimeout
	}
	if err == nil {
		metrics.ObserveChallengeWait(time.Since(start))
	}
	return err
}
