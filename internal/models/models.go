package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Currency selects which balance of an account a transaction touches
type Currency string

const (
	CurrencyCoins    Currency = "coins"
	CurrencyDiamonds Currency = "diamonds"
)

// Valid reports whether c is a known currency
func (c Currency) Valid() bool {
	return c == CurrencyCoins || c == CurrencyDiamonds
}

// TransactionType is the accounting direction of a ledger entry
type TransactionType string

const (
	TypeIncome   TransactionType = "income"
	TypeExpense  TransactionType = "expense"
	TypeTransfer TransactionType = "transfer"
)

// TransactionCategory is the classified purpose of a ledger entry
type TransactionCategory string

const (
	CategoryDailyBonus       TransactionCategory = "daily_bonus"
	CategoryWork             TransactionCategory = "work"
	CategorySalary           TransactionCategory = "salary"
	CategoryCasinoWin        TransactionCategory = "casino_win"
	CategoryQuestReward      TransactionCategory = "quest_reward"
	CategoryReward           TransactionCategory = "reward"
	CategoryGift             TransactionCategory = "gift"
	CategoryInvestmentReturn TransactionCategory = "investment_return"
	CategoryShopping         TransactionCategory = "shopping"
	CategoryGambling         TransactionCategory = "gambling"
	CategoryFood             TransactionCategory = "food"
	CategoryEntertainment    TransactionCategory = "entertainment"
	CategoryFees             TransactionCategory = "fees"
	CategoryServices         TransactionCategory = "services"
	CategoryRent             TransactionCategory = "rent"
	CategorySubscription     TransactionCategory = "subscription"
	CategoryDonation         TransactionCategory = "donation"
	CategoryP2P              TransactionCategory = "p2p"
	CategoryBank             TransactionCategory = "bank"
	CategoryInvestment       TransactionCategory = "investment"
	CategoryLoan             TransactionCategory = "loan"
	CategoryAdminAward       TransactionCategory = "admin_award"
	CategoryAdminTake        TransactionCategory = "admin_take"
	CategoryOther            TransactionCategory = "other"
)

// Account holds the balances of a single subject
type Account struct {
	ID        string    `db:"id" json:"id"`
	Coins     int64     `db:"coins" json:"coins"`
	Diamonds  int64     `db:"diamonds" json:"diamonds"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// BalanceOf returns the balance held in the given currency
func (a *Account) BalanceOf(c Currency) int64 {
	if c == CurrencyDiamonds {
		return a.Diamonds
	}
	return a.Coins
}

// Balance is the read model served to callers
type Balance struct {
	Subject  string `json:"subject"`
	Coins    int64  `json:"coins"`
	Diamonds int64  `json:"diamonds"`
}

// LedgerEntry is an immutable record of a balance-affecting event
type LedgerEntry struct {
	ID           string              `db:"id" json:"id"`
	Subject      string              `db:"user_id" json:"subject"`
	Scope        string              `db:"guild_id" json:"scope"`
	Type         TransactionType     `db:"type" json:"type"`
	Category     TransactionCategory `db:"category" json:"category"`
	Amount       int64               `db:"amount" json:"amount"`
	BalanceAfter int64               `db:"balance_after" json:"balanceAfter"`
	Reason       string              `db:"reason" json:"reason"`
	Merchant     *string             `db:"merchant" json:"merchant,omitempty"`
	Counterparty *string             `db:"related_user_id" json:"counterparty,omitempty"`
	Metadata     json.RawMessage     `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time           `db:"created_at" json:"createdAt"`
}

// Currency returns the currency tag stored in the entry metadata
func (e *LedgerEntry) Currency() Currency {
	var meta struct {
		Currency Currency `json:"currency"`
	}
	if len(e.Metadata) > 0 && json.Unmarshal(e.Metadata, &meta) == nil && meta.Currency.Valid() {
		return meta.Currency
	}
	return CurrencyCoins
}

// TransactionFilter narrows a ledger history query
type TransactionFilter struct {
	Type     TransactionType
	Category TransactionCategory
	Limit    int
	Offset   int
}

// AnalyticsPeriod is a trailing window for analytics
type AnalyticsPeriod string

const (
	PeriodDay   AnalyticsPeriod = "day"
	PeriodWeek  AnalyticsPeriod = "week"
	PeriodMonth AnalyticsPeriod = "month"
	PeriodYear  AnalyticsPeriod = "year"
)

// Window returns the length of the trailing window
func (p AnalyticsPeriod) Window() (time.Duration, bool) {
	switch p {
	case PeriodDay:
		return 24 * time.Hour, true
	case PeriodWeek:
		return 7 * 24 * time.Hour, true
	case PeriodMonth:
		return 30 * 24 * time.Hour, true
	case PeriodYear:
		return 365 * 24 * time.Hour, true
	}
	return 0, false
}

// AnalyticsRow aggregates entries by normalized type and category
type AnalyticsRow struct {
	Type     TransactionType     `db:"type" json:"type"`
	Category TransactionCategory `db:"category" json:"category"`
	Total    int64               `db:"total" json:"total"`
	Count    int                 `db:"count" json:"count"`
	Average  decimal.Decimal     `db:"average" json:"average"`
}

// EconomyStats summarizes every account in the store
type EconomyStats struct {
	TotalAccounts int             `db:"total_accounts" json:"totalAccounts"`
	TotalCoins    int64           `db:"total_coins" json:"totalCoins"`
	TotalDiamonds int64           `db:"total_diamonds" json:"totalDiamonds"`
	AvgCoins      decimal.Decimal `db:"avg_coins" json:"avgCoins"`
	AvgDiamonds   decimal.Decimal `db:"avg_diamonds" json:"avgDiamonds"`
}

// ActivityAggregate is the cumulative activity of a subject within a scope
type ActivityAggregate struct {
	Subject       string    `db:"user_id" json:"subject"`
	Scope         string    `db:"guild_id" json:"scope"`
	TotalVoice    int64     `db:"total_voice" json:"totalVoiceSeconds"`
	TotalMessages int64     `db:"total_messages" json:"totalMessages"`
	XP            int64     `db:"xp" json:"xp"`
	Level         int       `db:"level" json:"level"`
	XPForNext     int64     `db:"xp_for_next_level" json:"xpForNextLevel"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// LeaderboardKind selects the ranking column
type LeaderboardKind string

const (
	LeaderboardBalance  LeaderboardKind = "balance"
	LeaderboardVoice    LeaderboardKind = "voice"
	LeaderboardMessages LeaderboardKind = "messages"
	LeaderboardLevel    LeaderboardKind = "level"
)

// LeaderboardRow is one ranked subject
type LeaderboardRow struct {
	Subject string `db:"id" json:"subject"`
	Value   int64  `db:"value" json:"value"`
}

// Leaderboard is one page of a ranking
type Leaderboard struct {
	Kind  LeaderboardKind  `json:"kind"`
	Rows  []LeaderboardRow `json:"rows"`
	Total int              `json:"total"`
}

// ActivityDelta is the drained pending work of one subject
type ActivityDelta struct {
	Subject      string
	VoiceSeconds int64
	Messages     int64
	XP           int64
}

// LevelState is the leveling view of an aggregate row
type LevelState struct {
	Subject   string `db:"user_id"`
	XP        int64  `db:"xp"`
	Level     int    `db:"level"`
	XPForNext int64  `db:"xp_for_next_level"`
}
