package config

const EnvPrefix = "WATERBOT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	BotRoleResident = "resident"
	BotRoleEmployee = "employee"
	BotRoleAdmin    = "admin"
)

const (
	EnvAppEnv          = "WATERBOT_APP_ENV"
	EnvBotRole         = "WATERBOT_BOT_ROLE"
	EnvBotToken        = "WATERBOT_BOT_TOKEN"
	EnvAdminIDs        = "WATERBOT_ADMIN_IDS"
	EnvDBDSN           = "WATERBOT_DB_DSN"
	EnvDBHost          = "WATERBOT_DB_HOST"
	EnvDBUser          = "WATERBOT_DB_USER"
	EnvDBPassword      = "WATERBOT_DB_PASSWORD"
	EnvDBName          = "WATERBOT_DB_NAME"
	EnvRedisURL        = "WATERBOT_REDIS_URL"
	EnvRedisAddr       = "WATERBOT_REDIS_ADDR"
	EnvUseMemoryStores = "WATERBOT_USE_MEMORY_STORES"
	EnvRegistrationTTL = "WATERBOT_REGISTRATION_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
