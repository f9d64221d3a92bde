// Package common: errors.go определяет доменные ошибки,
// которые используются во всех модулях сервиса.
// Эти ошибки позволяют HTTP- и бот-обработчикам различать типы проблем
// и отвечать клиенту понятным статусом/сообщением.
package common

import "errors"

// Ошибки валидации (ничего не меняют в леджере)
var (
	// ErrInvalidAmount: некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrInsufficientBalance: недостаточно свободных средств на кошельке
	ErrInsufficientBalance = errors.New("недостаточно средств на кошельке")
	// ErrWalletNotFound: у пользователя нет кошелька
	ErrWalletNotFound = errors.New("кошелёк не найден")
	// ErrProfileNotFound: профиль пользователя не найден
	ErrProfileNotFound = errors.New("профиль не найден")
	// ErrProviderAccountNotLinked: не подключён Stripe-аккаунт для выплат
	ErrProviderAccountNotLinked = errors.New("платёжный аккаунт не подключён")
	// ErrPayoutsNotEnabled: выплаты на подключённый аккаунт не разрешены
	ErrPayoutsNotEnabled = errors.New("выплаты на платёжный аккаунт не включены")
	// ErrBalanceMismatch: баланс профиля разошёлся с кошельком, выводы закрыты до выравнивания
	ErrBalanceMismatch = errors.New("баланс профиля не совпадает с кошельком, обратитесь к администратору")
	// ErrUnsupportedCurrency: валюта не поддерживается
	ErrUnsupportedCurrency = errors.New("валюта не поддерживается")
)

// Ошибки входящих событий провайдера (вебхуки)
var (
	// ErrInvalidSignature: подпись вебхука не прошла проверку
	ErrInvalidSignature = errors.New("неверная подпись вебхука")
	// ErrMalformedEvent: в событии нет нужных метаданных
	ErrMalformedEvent = errors.New("некорректное событие провайдера")
	// ErrUnknownTransaction: событие ссылается на несуществующую транзакцию
	ErrUnknownTransaction = errors.New("транзакция из события не найдена")
)

// Ошибки провайдера
var (
	// ErrTransferFailed: провайдер отклонил перевод
	ErrTransferFailed = errors.New("перевод отклонён провайдером")
	// ErrCheckoutFailed: не удалось создать сессию оплаты
	ErrCheckoutFailed = errors.New("не удалось создать сессию оплаты")
)

// Ошибки хранилища
var (
	// ErrTransactionNotFound: транзакция не найдена
	ErrTransactionNotFound = errors.New("транзакция не найдена")
	// ErrIllegalTransition: недопустимая смена статуса транзакции
	ErrIllegalTransition = errors.New("недопустимый переход статуса транзакции")
)

// Ошибки админки
var (
	// ErrNotAdmin: пользователь не является администратором
	ErrNotAdmin = errors.New("у вас нет прав администратора")
	// ErrWrongPassword: неверный пароль
	ErrWrongPassword = errors.New("неверный пароль")
	// ErrTooManyAttempts: слишком много неудачных попыток входа
	ErrTooManyAttempts = errors.New("слишком много попыток, подождите 1 час")
	// ErrSessionExpired: сессия истекла
	ErrSessionExpired = errors.New("сессия истекла, авторизуйтесь заново")
	// ErrMemberNotLinked: участник Telegram не привязан к пользователю леджера
	ErrMemberNotLinked = errors.New("аккаунт не привязан к кошельку")
	// ErrMemberNotFound: участник Telegram ещё не писал боту
	ErrMemberNotFound = errors.New("участник не найден")
	// ErrProfileAlreadyLinked: профиль уже привязан к другому участнику
	ErrProfileAlreadyLinked = errors.New("профиль уже привязан к другому аккаунту")
)
