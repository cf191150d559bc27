package activity

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/rongwang/guild-ledger/internal/ephemeral"
	"github.com/rongwang/guild-ledger/internal/metrics"
	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/rongwang/guild-ledger/internal/utils"
)

// Outcome tells a caller what an ingest call did. Callers never need to
// act on it.
type Outcome string

const (
	OutcomeRecorded Outcome = "recorded"
	OutcomeCooldown Outcome = "cooldown"
	OutcomeSpam     Outcome = "spam"
	OutcomeStarted  Outcome = "started"
	OutcomeEnded    Outcome = "ended"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeFailed   Outcome = "failed"
)

// IngestOptions holds the message throttling rules
type IngestOptions struct {
	MinMessageLength int
	MessageXP        int64
	MaxLengthBonus   int64
	Cooldown         time.Duration
	SpamWindow       time.Duration
	SpamThreshold    int
}

// DefaultIngestOptions returns the production throttling rules
func DefaultIngestOptions() IngestOptions {
	return IngestOptions{
		MinMessageLength: 3,
		MessageXP:        2,
		MaxLengthBonus:   3,
		Cooldown:         3 * time.Second,
		SpamWindow:       5 * time.Second,
		SpamThreshold:    5,
	}
}

// MessageXPFor is the xp a message of the given length earns outside cooldown
func (o IngestOptions) MessageXPFor(contentLength int) int64 {
	bonus := int64(contentLength / 100)
	if bonus > o.MaxLengthBonus {
		bonus = o.MaxLengthBonus
	}
	return o.MessageXP + bonus
}

func nowMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func observe(signal string, outcome Outcome) {
	metrics.IngestEvents.WithLabelValues(signal, string(outcome)).Inc()
}

// MessageIngest counts messages into the pending message hash
type MessageIngest struct {
	store  ephemeral.Store
	opts   IngestOptions
	logger *utils.Logger
	now    func() time.Time
}

// NewMessageIngest creates a message ingest
func NewMessageIngest(store ephemeral.Store, opts IngestOptions, logger *utils.Logger) *MessageIngest {
	return &MessageIngest{
		store:  store,
		opts:   opts,
		logger: logger.WithComponent("ingest.message"),
		now:    time.Now,
	}
}

// RecordMessage counts one message. Spam is dropped; messages inside the
// per-subject cooldown are counted without xp. Store failures drop the event.
func (m *MessageIngest) RecordMessage(ctx context.Context, subject, scope string, contentLength int, bot bool) (Outcome, error) {
	if bot || subject == "" || scope == "" || contentLength < m.opts.MinMessageLength {
		observe("message", OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	outcome, err := m.record(ctx, subject, scope, contentLength)
	if err != nil {
		m.logger.Warn("dropping message event", "subject", subject, "scope", scope, "error", err)
		outcome = OutcomeFailed
	}
	observe("message", outcome)
	return outcome, err
}

func (m *MessageIngest) record(ctx context.Context, subject, scope string, contentLength int) (Outcome, error) {
	now := m.now()

	spam, err := m.isSpam(ctx, subject, now)
	if err != nil {
		return OutcomeFailed, err
	}
	if spam {
		return OutcomeSpam, nil
	}

	first, err := m.store.SetNX(ctx, cooldownKey(subject, scope), nowMillis(now), m.opts.Cooldown)
	if err != nil {
		return OutcomeFailed, err
	}

	fields := map[string]int64{subject + ":count": 1}
	if first {
		fields[subject+":xp"] = m.opts.MessageXPFor(contentLength)
	}
	if err := m.store.HIncrByMany(ctx, messageBatchKey(scope), fields); err != nil {
		return OutcomeFailed, err
	}

	if !first {
		return OutcomeCooldown, nil
	}
	return OutcomeRecorded, nil
}

// isSpam reports whether the subject already sent SpamThreshold messages
// inside the window. Accepted messages are remembered in a bounded list.
func (m *MessageIngest) isSpam(ctx context.Context, subject string, now time.Time) (bool, error) {
	key := spamKey(subject)
	stamps, err := m.store.LRange(ctx, key)
	if err != nil {
		return false, err
	}

	recent := 0
	for _, s := range stamps {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		if now.Sub(time.UnixMilli(ms)) < m.opts.SpamWindow {
			recent++
		}
	}
	if recent >= m.opts.SpamThreshold {
		return true, nil
	}

	ttl := time.Duration(math.Ceil(m.opts.SpamWindow.Seconds())) * time.Second
	return false, m.store.PushTrim(ctx, key, nowMillis(now), int64(m.opts.SpamThreshold), ttl)
}

// VoiceIngest tracks voice sessions. A session is Active while its start
// marker exists; ending it moves the elapsed seconds into the pending hash.
type VoiceIngest struct {
	store  ephemeral.Store
	logger *utils.Logger
	now    func() time.Time
}

// NewVoiceIngest creates a voice ingest
func NewVoiceIngest(store ephemeral.Store, logger *utils.Logger) *VoiceIngest {
	return &VoiceIngest{
		store:  store,
		logger: logger.WithComponent("ingest.voice"),
		now:    time.Now,
	}
}

// RecordVoiceJoin opens a session. Joining while already active keeps the
// original start.
func (v *VoiceIngest) RecordVoiceJoin(ctx context.Context, subject, scope string, eligible bool) (Outcome, error) {
	if !eligible || subject == "" || scope == "" {
		observe("voice", OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	started, err := v.store.SetNX(ctx, voiceActiveKey(subject, scope), nowMillis(v.now()), 0)
	if err != nil {
		return v.fail(subject, scope, err)
	}
	if !started {
		observe("voice", OutcomeIgnored)
		return OutcomeIgnored, nil
	}
	observe("voice", OutcomeStarted)
	return OutcomeStarted, nil
}

// RecordVoiceLeave closes a session. Leaving without an open session does
// nothing. Ineligible subjects (bots) are never tracked.
func (v *VoiceIngest) RecordVoiceLeave(ctx context.Context, subject, scope string, eligible bool) (Outcome, error) {
	if !eligible || subject == "" || scope == "" {
		observe("voice", OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	raw, ok, err := v.store.GetDel(ctx, voiceActiveKey(subject, scope))
	if err != nil {
		return v.fail(subject, scope, err)
	}
	if !ok {
		observe("voice", OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	startMs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		v.logger.Warn("discarding malformed session start", "subject", subject, "scope", scope, "value", raw)
		observe("voice", OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	seconds := (v.now().UnixMilli() - startMs) / 1000
	if seconds > 0 {
		if _, err := v.store.HIncrBy(ctx, voiceCompletedKey(scope), subject, seconds); err != nil {
			return v.fail(subject, scope, err)
		}
	}
	observe("voice", OutcomeEnded)
	return OutcomeEnded, nil
}

// RecordVoiceState applies a presence change. A session starts or ends only
// when the active status flips, so moving between channels keeps the running
// session.
func (v *VoiceIngest) RecordVoiceState(ctx context.Context, prev, next models.VoiceState) (Outcome, error) {
	if next.Bot || prev.Bot {
		observe("voice", OutcomeIgnored)
		return OutcomeIgnored, nil
	}

	wasActive, isActive := prev.Active(), next.Active()

	switch {
	case prev.InChannel() && !next.InChannel():
		if wasActive {
			return v.RecordVoiceLeave(ctx, prev.Subject, prev.Scope, true)
		}
	case !prev.InChannel() && next.InChannel():
		if isActive {
			return v.RecordVoiceJoin(ctx, next.Subject, next.Scope, true)
		}
	case wasActive != isActive:
		if isActive {
			return v.RecordVoiceJoin(ctx, next.Subject, next.Scope, true)
		}
		return v.RecordVoiceLeave(ctx, prev.Subject, prev.Scope, true)
	}
	return OutcomeIgnored, nil
}

func (v *VoiceIngest) fail(subject, scope string, err error) (Outcome, error) {
	v.logger.Warn("dropping voice event", "subject", subject, "scope", scope, "error", err)
	observe("voice", OutcomeFailed)
	return OutcomeFailed, err
}
