package config

const (
	EnvPrefix = "ECHOPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "ECHOPAY_APP_ENV"
	EnvPort     = "ECHOPAY_APP_PORT"
	EnvLogLevel = "ECHOPAY_LOG_LEVEL"

	EnvDBDSN  = "ECHOPAY_DB_DSN"
	EnvDBHost = "ECHOPAY_DB_HOST"
	EnvDBUser = "ECHOPAY_DB_USER"
	EnvDBName = "ECHOPAY_DB_NAME"

	EnvRedisURL = "ECHOPAY_REDIS_URL"

	EnvJWTSecret  = "ECHOPAY_JWT_SECRET"
	EnvJWTIssuer  = "ECHOPAY_JWT_ISSUER"
	EnvJWTExpMins = "ECHOPAY_JWT_EXPIRATION_MINUTES"

	EnvLedgerMaxAmount  = "ECHOPAY_LEDGER_MAX_TRANSACTION_AMOUNT"
	EnvLedgerCurrencies = "ECHOPAY_LEDGER_CURRENCIES"

	EnvBroadcasterBufferSize = "ECHOPAY_BROADCASTER_BUFFER_SIZE"
	EnvBroadcasterDropPolicy = "ECHOPAY_BROADCASTER_DROP_POLICY"

	EnvOutboxTransport = "ECHOPAY_OUTBOX_TRANSPORT"
)

const (
	DropPolicyNewest = "drop_newest"
	DropPolicyOldest = "drop_oldest"

	OutboxTransportPubSub = "pubsub"
	OutboxTransportNATS   = "nats"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
