package models

// Request models
type TransactionRequest struct {
	Scope        string         `json:"scope" binding:"required"`
	Amount       int64          `json:"amount" binding:"required"`
	Currency     Currency       `json:"currency" binding:"omitempty,oneof=coins diamonds"`
	Reason       string         `json:"reason" binding:"required"`
	Merchant     *string        `json:"merchant"`
	Counterparty *string        `json:"counterparty"`
	Metadata     map[string]any `json:"metadata"`
}

type TransferRequest struct {
	Recipient string `json:"recipient" binding:"required"`
	Scope     string `json:"scope" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Reason    string `json:"reason"`
}

// BalanceAdjustRequest drives the admin award/take/set operations
type BalanceAdjustRequest struct {
	Scope    string `json:"scope" binding:"required"`
	Coins    int64  `json:"coins" binding:"gte=0"`
	Diamonds int64  `json:"diamonds" binding:"gte=0"`
	Reason   string `json:"reason"`
}

type VoiceEventRequest struct {
	Scope    string `json:"scope" binding:"required"`
	Eligible bool   `json:"eligible"`
	Bot      bool   `json:"bot"`
}

// VoiceState is a subject's presence as reported by the chat platform
type VoiceState struct {
	Subject        string `json:"subject"`
	Scope          string `json:"scope"`
	ChannelID      string `json:"channelId"`
	SelfDeafened   bool   `json:"selfDeafened"`
	ServerDeafened bool   `json:"serverDeafened"`
	Bot            bool   `json:"bot"`
}

// InChannel reports whether the subject is connected to any voice channel
func (s VoiceState) InChannel() bool {
	return s.ChannelID != ""
}

// Active reports whether presence in this state earns voice time
func (s VoiceState) Active() bool {
	return s.InChannel() && !s.SelfDeafened && !s.ServerDeafened
}

type VoiceStateRequest struct {
	Old VoiceState `json:"old"`
	New VoiceState `json:"new"`
}

type MessageEventRequest struct {
	Scope         string `json:"scope" binding:"required"`
	ContentLength int    `json:"contentLength" binding:"gte=0"`
	Bot           bool   `json:"bot"`
}

// Response models
type TransactionResponse struct {
	Status string       `json:"status"`
	Entry  *LedgerEntry `json:"entry"`
}

type TransferResponse struct {
	Status         string       `json:"status"`
	SenderEntry    *LedgerEntry `json:"senderEntry"`
	RecipientEntry *LedgerEntry `json:"recipientEntry"`
}

type TransactionsResponse struct {
	Status  string        `json:"status"`
	Entries []LedgerEntry `json:"entries"`
}

type AnalyticsResponse struct {
	Status string          `json:"status"`
	Period AnalyticsPeriod `json:"period"`
	Rows   []AnalyticsRow  `json:"rows"`
}

type BalanceResponse struct {
	Status string `json:"status"`
	Balance
}

// ActivityStats is the voice time of a subject over a day window, combining
// durable, pending and in-progress seconds
type ActivityStats struct {
	Subject      string `json:"subject"`
	Scope        string `json:"scope"`
	Days         int    `json:"days"`
	VoiceSeconds int64  `json:"voiceSeconds"`
	Durable      int64  `json:"durableSeconds"`
	Pending      int64  `json:"pendingSeconds"`
	Live         int64  `json:"liveSeconds"`
}

type StatsResponse struct {
	Status string         `json:"status"`
	Stats  *ActivityStats `json:"stats"`
}

type ActivityResponse struct {
	Status   string             `json:"status"`
	Activity *ActivityAggregate `json:"activity"`
}

type LeaderboardResponse struct {
	Status string `json:"status"`
	*Leaderboard
}

type EconomyStatsResponse struct {
	Status string `json:"status"`
	*EconomyStats
}

type CooldownResponse struct {
	Status   string  `json:"status"`
	Category string  `json:"category"`
	LastAt   *string `json:"lastAt"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IngestResponse acknowledges an activity event. Ingest never fails the caller.
type IngestResponse struct {
	Status  string `json:"status"`
	Outcome string `json:"outcome"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
