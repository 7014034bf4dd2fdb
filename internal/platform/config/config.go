package config

import (
	"os"
	"time"
)

// Privado configures the proof verification flow. Required fields depend on
// DevMode: the permissive verifier needs nothing, the iden3 verifier fails
// construction when DID/callback/RPC settings are absent.
type Privado struct {
	DevMode          bool
	RequestTTL       time.Duration
	VerifierDID      string
	CallbackURL      string
	RequestReason    string
	RequestScopeJSON string
	CircuitsDir      string
	IPFSGatewayURL   string
	ResolverPrefix   string
	RPCURL           string
	StateContract    string
	AcceptedDelay    time.Duration
}

// Registry configures the identity registry collaborator. When DatabaseURL is
// set the service talks to Postgres directly; otherwise it goes through the
// Hasura GraphQL admin endpoint.
type Registry struct {
	HasuraEndpoint    string
	HasuraAdminSecret string
	DatabaseURL       string
}

// Chain configures the on-chain allowlist notification.
type Chain struct {
	Disabled        bool
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	ContractABI     string
}

// Audit configures the optional Kafka audit sink.
type Audit struct {
	KafkaBrokers string
	Topic        string
}

// Server is the root configuration for the enrollment service.
type Server struct {
	Addr     string
	RedisURL string
	Privado  Privado
	Registry Registry
	Chain    Chain
	Audit    Audit
}

// FromEnv builds a Server config from environment variables so main stays lean.
// Defaults match the dev deployment; production overrides everything.
func FromEnv() Server {
	return Server{
		Addr:     envOr("HEIRLOOM_ADDR", ":3001"),
		RedisURL: os.Getenv("REDIS_URL"),
		Privado: Privado{
			DevMode:          os.Getenv("PRIVADO_DEV_MODE") == "true",
			RequestTTL:       durationOr("PRIVADO_REQUEST_TTL", 10*time.Minute),
			VerifierDID:      os.Getenv("PRIVADO_VERIFIER_DID"),
			CallbackURL:      os.Getenv("PRIVADO_CALLBACK_URL"),
			RequestReason:    envOr("PRIVADO_REQUEST_REASON", "Heirloom verification"),
			RequestScopeJSON: os.Getenv("PRIVADO_REQUEST_SCOPE_JSON"),
			CircuitsDir:      envOr("PRIVADO_CIRCUITS_DIR", "circuits"),
			IPFSGatewayURL:   envOr("PRIVADO_IPFS_GATEWAY_URL", "https://ipfs.io"),
			ResolverPrefix:   envOr("PRIVADO_RESOLVER_PREFIX", "polygon:amoy"),
			RPCURL:           os.Getenv("PRIVADO_RPC_URL"),
			StateContract:    envOr("PRIVADO_STATE_CONTRACT_ADDRESS", "0x1a4cC30f2aA0377b0c3bc9848766D90cb4404124"),
			AcceptedDelay:    durationOr("PRIVADO_ACCEPTED_DELAY", 5*time.Minute),
		},
		Registry: Registry{
			HasuraEndpoint:    os.Getenv("HASURA_GRAPHQL_ENDPOINT"),
			HasuraAdminSecret: os.Getenv("HASURA_GRAPHQL_ADMIN_SECRET"),
			DatabaseURL:       os.Getenv("DATABASE_URL"),
		},
		Chain: Chain{
			Disabled:        os.Getenv("CHAIN_VERIFY_DISABLED") == "true",
			RPCURL:          os.Getenv("CHAIN_RPC_URL"),
			PrivateKey:      os.Getenv("CHAIN_PRIVATE_KEY"),
			ContractAddress: os.Getenv("CHAIN_CONTRACT_ADDRESS"),
			ContractABI:     os.Getenv("CHAIN_CONTRACT_ABI"),
		},
		Audit: Audit{
			KafkaBrokers: os.Getenv("AUDIT_KAFKA_BROKERS"),
			Topic:        envOr("AUDIT_KAFKA_TOPIC", "heirloom.identity.audit"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
