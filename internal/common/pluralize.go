// Package common: pluralize.go содержит склонение русских числительных
// для сообщений бота.
package common

import "fmt"

// pluralForm выбирает форму слова по правилам русского языка.
//
//   - n%10==1 И n%100!=11 → one (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → few (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → many (0, 5-20, 25-30, 100, ...)
func pluralForm(n int64, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	lastDigit := n % 10
	lastTwoDigits := n % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return one
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return few
	}
	return many
}

// PluralizeTransactions возвращает форму слова «транзакция» для числа n.
//
// Примеры:
//
//	PluralizeTransactions(1)  → "транзакция"
//	PluralizeTransactions(3)  → "транзакции"
//	PluralizeTransactions(11) → "транзакций"
func PluralizeTransactions(n int64) string {
	return pluralForm(n, "транзакция", "транзакции", "транзакций")
}

// CountTransactions создаёт строку вида "5 транзакций".
func CountTransactions(n int64) string {
	return fmt.Sprintf("%d %s", n, PluralizeTransactions(n))
}
