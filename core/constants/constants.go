package constants

import "time"

const (
	DefaultTimeout        = 30 * time.Second
	DefaultRequestTimeout = 15 * time.Second
	ProviderHTTPTimeout   = 20 * time.Second
	ShutdownTimeout       = 15 * time.Second

	ContextTokenData = "token_data"
	ContextRawBody   = "raw_body"
	MaxWebhookBody   = 1 << 20
)

const (
	DatabaseMaxOpenConns    = 25
	DatabaseMaxIdleConns    = 10
	DatabaseConnMaxLifetime = 30 // minutes
)

// Inbound webhook routes. Subscriptions are registered against these fixed paths.
const (
	WebhookPathCalendly  = "/api/v1/webhooks/calendly"
	WebhookPathGoogle    = "/api/v1/webhooks/google"
	WebhookPathMicrosoft = "/api/v1/webhooks/microsoft"
	WebhookPathRecall    = "/api/v1/webhooks/recall"
)

const (
	RedisKeyWebhookDelivery = "webhook:delivery:"
	WebhookDeliveryTTL      = 24 * time.Hour
	RedisChannelMeetings    = "meeting-events"
)

const (
	TokenRefreshSkew    = 5 * time.Minute
	GoogleChannelTTL    = 7 * 24 * time.Hour
	MicrosoftSubTTL     = 4200 * time.Minute
	CalendlyLookback    = 30 * 24 * time.Hour
	CalendlyLookahead   = 180 * 24 * time.Hour
	CalendarLookback    = 30 * 24 * time.Hour
	CalendarLookahead   = 180 * 24 * time.Hour
	ProviderPageSize    = 100
	InitialRetryBackoff = time.Minute
)
