package activity

import (
	"sort"
	"strings"

	"github.com/rongwang/guild-ledger/internal/models"
)

// Key layout of the ephemeral store
const (
	voiceCompletedPrefix = "voice:completed:"
	voiceActivePrefix    = "voice:active:"
	messageBatchPrefix   = "msg:batch:"
	messageCooldownKey   = "msg:cooldown:"
	spamPrefix           = "spam:"
)

// VoiceXPPerMinute is the xp earned per minute in voice
const VoiceXPPerMinute = 5

func voiceCompletedKey(scope string) string { return voiceCompletedPrefix + scope }

func voiceActiveKey(subject, scope string) string {
	return voiceActivePrefix + subject + ":" + scope
}

func messageBatchKey(scope string) string { return messageBatchPrefix + scope }

func cooldownKey(subject, scope string) string {
	return messageCooldownKey + subject + ":" + scope
}

func spamKey(subject string) string { return spamPrefix + subject }

// Signal describes how one kind of pending activity is stored and turned
// into durable deltas
type Signal interface {
	Name() string
	KeyPrefix() string
	// Partition turns a drained hash into one delta per subject
	Partition(raw map[string]int64) []models.ActivityDelta
	// Encode is the inverse of Partition, used to write deltas back
	Encode(deltas []models.ActivityDelta) map[string]int64
	// Daily reports whether deltas also feed the per-day records
	Daily() bool
}

// VoiceSignal stores completed session seconds as subject -> seconds
type VoiceSignal struct{}

func (VoiceSignal) Name() string      { return "voice" }
func (VoiceSignal) KeyPrefix() string { return voiceCompletedPrefix }
func (VoiceSignal) Daily() bool       { return true }

func (VoiceSignal) Partition(raw map[string]int64) []models.ActivityDelta {
	deltas := make([]models.ActivityDelta, 0, len(raw))
	for subject, seconds := range raw {
		if seconds <= 0 {
			continue
		}
		deltas = append(deltas, models.ActivityDelta{
			Subject:      subject,
			VoiceSeconds: seconds,
			XP:           VoiceXP(seconds),
		})
	}
	sortDeltas(deltas)
	return deltas
}

func (VoiceSignal) Encode(deltas []models.ActivityDelta) map[string]int64 {
	out := make(map[string]int64, len(deltas))
	for _, d := range deltas {
		out[d.Subject] += d.VoiceSeconds
	}
	return out
}

// VoiceXP is floor(seconds / 60 * 5)
func VoiceXP(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return seconds * VoiceXPPerMinute / 60
}

// MessageSignal stores "{subject}:count" and "{subject}:xp" fields
type MessageSignal struct{}

func (MessageSignal) Name() string      { return "message" }
func (MessageSignal) KeyPrefix() string { return messageBatchPrefix }
func (MessageSignal) Daily() bool       { return false }

func (MessageSignal) Partition(raw map[string]int64) []models.ActivityDelta {
	bySubject := make(map[string]*models.ActivityDelta)
	for field, v := range raw {
		i := strings.LastIndexByte(field, ':')
		if i <= 0 {
			continue
		}
		subject, kind := field[:i], field[i+1:]
		d, ok := bySubject[subject]
		if !ok {
			d = &models.ActivityDelta{Subject: subject}
			bySubject[subject] = d
		}
		switch kind {
		case "count":
			d.Messages += v
		case "xp":
			d.XP += v
		}
	}

	deltas := make([]models.ActivityDelta, 0, len(bySubject))
	for _, d := range bySubject {
		if d.Messages <= 0 {
			continue
		}
		if d.XP < 0 {
			d.XP = 0
		}
		deltas = append(deltas, *d)
	}
	sortDeltas(deltas)
	return deltas
}

func (MessageSignal) Encode(deltas []models.ActivityDelta) map[string]int64 {
	out := make(map[string]int64, 2*len(deltas))
	for _, d := range deltas {
		out[d.Subject+":count"] += d.Messages
		if d.XP != 0 {
			out[d.Subject+":xp"] += d.XP
		}
	}
	return out
}

func sortDeltas(deltas []models.ActivityDelta) {
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].Subject < deltas[j].Subject })
}
