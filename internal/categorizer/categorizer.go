// Package categorizer maps free-text transaction reasons onto a
// (type, category) pair. It is pure and safe to call inside a
// database transaction.
package categorizer

import (
	"sort"
	"strings"

	"github.com/rongwang/guild-ledger/internal/models"
)

type rule struct {
	keyword  string
	txType   models.TransactionType
	category models.TransactionCategory
}

func r(keyword string, t models.TransactionType, c models.TransactionCategory) rule {
	return rule{keyword: keyword, txType: t, category: c}
}

var baseRules = []rule{
	r("ежедневный бонус", models.TypeIncome, models.CategoryDailyBonus),
	r("ежедневный", models.TypeIncome, models.CategoryDailyBonus),
	r("daily_bonus", models.TypeIncome, models.CategoryDailyBonus),
	r("daily", models.TypeIncome, models.CategoryDailyBonus),
	r("timely", models.TypeIncome, models.CategoryDailyBonus),

	r("работа", models.TypeIncome, models.CategoryWork),
	r("work", models.TypeIncome, models.CategoryWork),
	r("job", models.TypeIncome, models.CategoryWork),

	r("зарплата", models.TypeIncome, models.CategorySalary),
	r("salary", models.TypeIncome, models.CategorySalary),
	r("wage", models.TypeIncome, models.CategorySalary),

	r("выигрыш в монетку", models.TypeIncome, models.CategoryCasinoWin),
	r("выигрыш в бросок", models.TypeIncome, models.CategoryCasinoWin),
	r("выигрыш в дуэль", models.TypeIncome, models.CategoryCasinoWin),
	r("выигрыш в камень, ножницы, бумага", models.TypeIncome, models.CategoryCasinoWin),
	r("coinflipwin", models.TypeIncome, models.CategoryCasinoWin),
	r("betrollwin", models.TypeIncome, models.CategoryCasinoWin),
	r("duelwin", models.TypeIncome, models.CategoryCasinoWin),
	r("rpswin", models.TypeIncome, models.CategoryCasinoWin),
	r("выигрыш", models.TypeIncome, models.CategoryCasinoWin),
	r("casino_win", models.TypeIncome, models.CategoryCasinoWin),
	r("jackpot", models.TypeIncome, models.CategoryCasinoWin),
	r("won", models.TypeIncome, models.CategoryCasinoWin),

	r("квест", models.TypeIncome, models.CategoryQuestReward),
	r("quest", models.TypeIncome, models.CategoryQuestReward),

	r("награда", models.TypeIncome, models.CategoryReward),
	r("reward", models.TypeIncome, models.CategoryReward),
	r("бонус", models.TypeIncome, models.CategoryReward),
	r("bonus", models.TypeIncome, models.CategoryReward),

	r("подарок", models.TypeIncome, models.CategoryGift),
	r("gift", models.TypeIncome, models.CategoryGift),
	r("present", models.TypeIncome, models.CategoryGift),

	r("магазин", models.TypeExpense, models.CategoryShopping),
	r("покупка", models.TypeExpense, models.CategoryShopping),
	r("купил", models.TypeExpense, models.CategoryShopping),
	r("shop", models.TypeExpense, models.CategoryShopping),
	r("buy", models.TypeExpense, models.CategoryShopping),
	r("purchase", models.TypeExpense, models.CategoryShopping),
	r("bought", models.TypeExpense, models.CategoryShopping),

	r("проигрыш в монетку", models.TypeExpense, models.CategoryGambling),
	r("проигрыш в бросок", models.TypeExpense, models.CategoryGambling),
	r("проигрыш в дуэль", models.TypeExpense, models.CategoryGambling),
	r("проигрыш в камень, ножницы, бумага", models.TypeExpense, models.CategoryGambling),
	r("coinfliplose", models.TypeExpense, models.CategoryGambling),
	r("betrolllose", models.TypeExpense, models.CategoryGambling),
	r("duellose", models.TypeExpense, models.CategoryGambling),
	r("rpslose", models.TypeExpense, models.CategoryGambling),
	r("ставка", models.TypeExpense, models.CategoryGambling),
	r("казино", models.TypeExpense, models.CategoryGambling),
	r("casino", models.TypeExpense, models.CategoryGambling),
	r("bet", models.TypeExpense, models.CategoryGambling),
	r("gamble", models.TypeExpense, models.CategoryGambling),
	r("slots", models.TypeExpense, models.CategoryGambling),
	r("проигрыш", models.TypeExpense, models.CategoryGambling),

	r("ресторан", models.TypeExpense, models.CategoryFood),
	r("кафе", models.TypeExpense, models.CategoryFood),
	r("еда", models.TypeExpense, models.CategoryFood),
	r("restaurant", models.TypeExpense, models.CategoryFood),
	r("coffee", models.TypeExpense, models.CategoryFood),
	r("food", models.TypeExpense, models.CategoryFood),
	r("eat", models.TypeExpense, models.CategoryFood),

	r("игра", models.TypeExpense, models.CategoryEntertainment),
	r("развлечение", models.TypeExpense, models.CategoryEntertainment),
	r("game", models.TypeExpense, models.CategoryEntertainment),
	r("entertainment", models.TypeExpense, models.CategoryEntertainment),
	r("fun", models.TypeExpense, models.CategoryEntertainment),

	r("подписка", models.TypeExpense, models.CategorySubscription),
	r("премиум", models.TypeExpense, models.CategorySubscription),
	r("premium", models.TypeExpense, models.CategorySubscription),
	r("subscription", models.TypeExpense, models.CategorySubscription),

	r("аренда", models.TypeExpense, models.CategoryRent),
	r("rent", models.TypeExpense, models.CategoryRent),

	r("услуга", models.TypeExpense, models.CategoryServices),
	r("service", models.TypeExpense, models.CategoryServices),

	r("комиссия", models.TypeExpense, models.CategoryFees),
	r("налог", models.TypeExpense, models.CategoryFees),
	r("fee", models.TypeExpense, models.CategoryFees),
	r("tax", models.TypeExpense, models.CategoryFees),
	r("commission", models.TypeExpense, models.CategoryFees),
	r("за перевод", models.TypeExpense, models.CategoryFees),

	r("административная выдача", models.TypeIncome, models.CategoryAdminAward),
	r("выдача администратором", models.TypeIncome, models.CategoryAdminAward),
	r("выдача донатной валюты администратором", models.TypeIncome, models.CategoryAdminAward),
	r("списание донатной валюты администратором", models.TypeExpense, models.CategoryAdminTake),
	r("award", models.TypeIncome, models.CategoryAdminAward),
	r("административное списание", models.TypeExpense, models.CategoryAdminTake),
	r("списание администратором", models.TypeExpense, models.CategoryAdminTake),
	r("take", models.TypeExpense, models.CategoryAdminTake),

	r("перевод", models.TypeTransfer, models.CategoryP2P),
	r("transfer", models.TypeTransfer, models.CategoryP2P),
	r("send", models.TypeTransfer, models.CategoryP2P),
	r("give", models.TypeTransfer, models.CategoryP2P),
	r("donate", models.TypeTransfer, models.CategoryP2P),
	r("pay", models.TypeTransfer, models.CategoryP2P),
}

// rules is baseRules ordered by descending keyword length, measured in
// runes. Equal lengths keep table order so the result is deterministic.
var rules = sortRules(baseRules)

func sortRules(in []rule) []rule {
	out := make([]rule, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return len([]rune(out[i].keyword)) > len([]rune(out[j].keyword))
	})
	return out
}

// Categorize returns the type and category for a transaction. The longest
// keyword contained in the lowercased reason and merchant wins. Without a
// match, entries with a counterparty are peer transfers and everything else
// is uncategorized income.
func Categorize(reason, merchant string, hasCounterparty bool) (models.TransactionType, models.TransactionCategory) {
	text := strings.TrimSpace(strings.ToLower(reason + " " + merchant))

	for _, rl := range rules {
		if strings.Contains(text, rl.keyword) {
			return rl.txType, rl.category
		}
	}

	if hasCounterparty {
		return models.TypeTransfer, models.CategoryP2P
	}
	return models.TypeIncome, models.CategoryOther
}
