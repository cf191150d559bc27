package categorizer

import (
	"testing"

	"github.com/rongwang/guild-ledger/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name            string
		reason          string
		merchant        string
		hasCounterparty bool
		wantType        models.TransactionType
		wantCategory    models.TransactionCategory
	}{
		{"daily bonus phrase", "Ежедневный бонус", "", false, models.TypeIncome, models.CategoryDailyBonus},
		{"no match with counterparty", "случайный текст", "", true, models.TypeTransfer, models.CategoryP2P},
		{"no match without counterparty", "случайный текст", "", false, models.TypeIncome, models.CategoryOther},
		{"longest keyword beats shorter one", "Проигрыш в монетку", "", false, models.TypeExpense, models.CategoryGambling},
		{"specific admin phrase beats generic take", "Списание донатной валюты администратором", "", false, models.TypeExpense, models.CategoryAdminTake},
		{"casino win phrase beats casino", "casino_win", "", false, models.TypeIncome, models.CategoryCasinoWin},
		{"merchant participates in matching", "order #12", "Coffee House", false, models.TypeExpense, models.CategoryFood},
		{"keyword beats counterparty default", "gift for a friend", "", true, models.TypeIncome, models.CategoryGift},
		{"transfer keyword", "Перевод пользователю", "", true, models.TypeTransfer, models.CategoryP2P},
		{"case insensitive", "SALARY", "", false, models.TypeIncome, models.CategorySalary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotCategory := Categorize(tt.reason, tt.merchant, tt.hasCounterparty)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantCategory, gotCategory)
		})
	}
}

func TestRulesOrderedByKeywordLength(t *testing.T) {
	for i := 1; i < len(rules); i++ {
		prev := len([]rune(rules[i-1].keyword))
		cur := len([]rune(rules[i].keyword))
		assert.GreaterOrEqual(t, prev, cur, "rule %q is out of order", rules[i].keyword)
	}
	assert.Len(t, rules, len(baseRules))
}

func TestCategorizeIsDeterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		typ, cat := Categorize("won a bet", "", false)
		assert.Equal(t, models.TypeIncome, typ)
		assert.Equal(t, models.CategoryCasinoWin, cat)
	}
}
