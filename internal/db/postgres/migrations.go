package postgres

// SQL-миграции встроены в код для упрощения деплоя.
// Порядок важен: версии применяются по возрастанию и никогда не переписываются.
var migrations = []struct {
	version int
	name    string
	sql     string
}{
	{1, "profiles", migration001Profiles},
	{2, "wallets", migration002Wallets},
	{3, "transactions", migration003Transactions},
	{4, "transaction_status_guard", migration004StatusGuard},
	{5, "members", migration005Members},
	{6, "admin", migration006Admin},
}

var migration001Profiles = `
CREATE TABLE IF NOT EXISTS profiles (
    id UUID PRIMARY KEY,
    balance NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
    currency VARCHAR(3) NOT NULL DEFAULT 'usd',
    stripe_account_id VARCHAR(255),
    stripe_payouts_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

var migration002Wallets = `
CREATE TABLE IF NOT EXISTS wallets (
    id UUID PRIMARY KEY,
    user_id UUID UNIQUE NOT NULL REFERENCES profiles(id),
    balance NUMERIC(14,2) NOT NULL DEFAULT 0,
    reserved_balance NUMERIC(14,2) NOT NULL DEFAULT 0,
    total_earned NUMERIC(14,2) NOT NULL DEFAULT 0,
    total_withdrawn NUMERIC(14,2) NOT NULL DEFAULT 0,
    currency VARCHAR(3) NOT NULL DEFAULT 'usd',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT wallets_balance_non_negative CHECK (balance >= 0),
    CONSTRAINT wallets_reserved_bounds CHECK (reserved_balance >= 0 AND reserved_balance <= balance)
);
`

var migration003Transactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id UUID PRIMARY KEY,
    wallet_id UUID NOT NULL REFERENCES wallets(id),
    type VARCHAR(16) NOT NULL
        CHECK (type IN ('income', 'outcome', 'withdrawal', 'deposit', 'fee')),
    amount NUMERIC(14,2) NOT NULL CHECK (amount > 0),
    status VARCHAR(16) NOT NULL
        CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'cancelled', 'expired')),
    description TEXT NOT NULL DEFAULT '',
    reference_type VARCHAR(64),
    reference_id VARCHAR(255),
    provider VARCHAR(32),
    provider_payment_id VARCHAR(255),
    provider_status VARCHAR(64),
    admin_notes TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_transactions_wallet_created ON transactions(wallet_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_pending_deposits
    ON transactions(expires_at) WHERE status = 'pending' AND type = 'deposit';
CREATE INDEX IF NOT EXISTS idx_transactions_processing
    ON transactions(created_at) WHERE status = 'processing';
CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_provider_payment
    ON transactions(provider, provider_payment_id) WHERE provider_payment_id IS NOT NULL;
`

// Триггер: последний рубеж: даже если код ошибётся, БД не даст
// перевести транзакцию в статус вне таблицы переходов или переписать терминальную запись.
var migration004StatusGuard = `
CREATE OR REPLACE FUNCTION transactions_guard_update() RETURNS trigger AS $$
BEGIN
    IF NEW.amount <> OLD.amount OR NEW.type <> OLD.type OR NEW.wallet_id <> OLD.wallet_id THEN
        RAISE EXCEPTION 'transaction %: amount, type and wallet are immutable', OLD.id;
    END IF;

    IF NEW.status <> OLD.status THEN
        IF NOT (
            (OLD.status = 'pending' AND NEW.status IN ('completed', 'expired')) OR
            (OLD.status = 'processing' AND NEW.status IN ('completed', 'failed'))
        ) THEN
            RAISE EXCEPTION 'transaction %: illegal status transition % -> %', OLD.id, OLD.status, NEW.status;
        END IF;
        RETURN NEW;
    END IF;

    IF OLD.status IN ('completed', 'failed', 'cancelled', 'expired') AND (
        NEW.description IS DISTINCT FROM OLD.description OR
        NEW.provider IS DISTINCT FROM OLD.provider OR
        NEW.provider_payment_id IS DISTINCT FROM OLD.provider_payment_id OR
        NEW.provider_status IS DISTINCT FROM OLD.provider_status OR
        NEW.completed_at IS DISTINCT FROM OLD.completed_at OR
        NEW.expires_at IS DISTINCT FROM OLD.expires_at
    ) THEN
        RAISE EXCEPTION 'transaction %: terminal transaction is immutable', OLD.id;
    END IF;

    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_transactions_guard_update ON transactions;
CREATE TRIGGER trg_transactions_guard_update
    BEFORE UPDATE ON transactions
    FOR EACH ROW EXECUTE FUNCTION transactions_guard_update();

CREATE OR REPLACE FUNCTION transactions_guard_delete() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'transaction %: transactions are never deleted', OLD.id;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_transactions_guard_delete ON transactions;
CREATE TRIGGER trg_transactions_guard_delete
    BEFORE DELETE ON transactions
    FOR EACH ROW EXECUTE FUNCTION transactions_guard_delete();
`

var migration005Members = `
CREATE TABLE IF NOT EXISTS members (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT UNIQUE NOT NULL,
    username VARCHAR(255),
    first_name VARCHAR(255) NOT NULL DEFAULT '',
    last_name VARCHAR(255),
    profile_id UUID UNIQUE REFERENCES profiles(id),
    is_admin BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_members_username ON members(username);
`

var migration006Admin = `
CREATE TABLE IF NOT EXISTS admin_sessions (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT REFERENCES members(user_id),
    session_token VARCHAR(255) UNIQUE,
    authenticated_at TIMESTAMPTZ DEFAULT NOW(),
    expires_at TIMESTAMPTZ,
    last_activity TIMESTAMPTZ DEFAULT NOW(),
    is_active BOOLEAN DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_admin_sessions_user_id ON admin_sessions(user_id);
CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT,
    attempt_time TIMESTAMPTZ DEFAULT NOW(),
    success BOOLEAN DEFAULT FALSE
);
`
