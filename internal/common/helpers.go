// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: работа с суммами, валютами и временем.
package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency: валюта по умолчанию, если ни запрос, ни кошелёк её не задают.
const DefaultCurrency = "usd"

// hundred: множитель для перевода суммы в минимальные единицы (центы).
var hundred = decimal.NewFromInt(100)

// ToMinorUnits переводит сумму в центы с округлением до целого.
//
// Примеры:
//
//	ToMinorUnits(50.00) → 5000
//	ToMinorUnits(0.015) → 2
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// NormalizeAmount округляет сумму до копеек (NUMERIC(14,2) в БД).
func NormalizeAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ResolveCurrency выбирает валюту операции: из запроса, затем кошелька, затем usd.
// Результат всегда в нижнем регистре, так её ждёт провайдер.
func ResolveCurrency(candidates ...string) string {
	for _, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			return c
		}
	}
	return DefaultCurrency
}

// FormatMoney форматирует сумму для сообщений: "50.00 USD".
func FormatMoney(amount decimal.Decimal, currency string) string {
	return fmt.Sprintf("%s %s", amount.StringFixed(2), strings.ToUpper(ResolveCurrency(currency)))
}

// LoadLocation загружает часовой пояс, при ошибке возвращает UTC+3 (как Europe/Moscow).
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" (день.месяц.год часы:минуты).
// Используется для отображения дат транзакций.
func FormatDateTime(t time.Time) string {
	return t.In(LoadLocation("Europe/Moscow")).Format("02.01.2006 15:04")
}
