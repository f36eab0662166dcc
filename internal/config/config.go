package config

import "github.com/caarlos0/env/v10"

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	LLMAPIKey   string `env:"LLM_API_KEY,required"`
	LLMBaseURL  string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMModel    string `env:"LLM_MODEL" envDefault:"gpt-5.1"`
	SMTPHost    string `env:"SMTP_HOST"`
	SMTPPort    int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser    string `env:"SMTP_USER"`
	SMTPPass    string `env:"SMTP_PASS"`
	SMTPFrom    string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS  bool   `env:"SMTP_USE_TLS" envDefault:"false"`
	RedisAddr   string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB     int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret            string `env:"JWT_SECRET"`
	JWTAccessTTLMinutes  int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	JWTRefreshTTLMinutes int    `env:"JWT_REFRESH_TTL_MINUTES" envDefault:"10080"`

	// Pipeline runtime tuning.
	TokenBudget              int     `env:"TOKEN_BUDGET" envDefault:"16000"`
	TurnDeadlineMs           int     `env:"TURN_DEADLINE_MS" envDefault:"30000"`
	LLMModelChat             string  `env:"LLM_MODEL_CHAT" envDefault:"gpt-5.1"`
	LLMModelExtraction       string  `env:"LLM_MODEL_EXTRACTION" envDefault:"gpt-5.1-mini"`
	VectorCollectionPrefix   string  `env:"VECTOR_COLLECTION_PREFIX" envDefault:"char"`
	EnableEmojiDecoration    bool    `env:"ENABLE_EMOJI_DECORATION" envDefault:"true"`
	EnableAIIdentityDisclosure bool  `env:"ENABLE_AI_IDENTITY_DISCLOSURE" envDefault:"true"`
	DedupHashPrefixChars     int     `env:"DEDUP_HASH_PREFIX_CHARS" envDefault:"100"`
	MemoryRecencyHalfLifeDays float64 `env:"MEMORY_RECENCY_HALFLIFE_DAYS" envDefault:"30"`

	// Per-store pool sizes, mirroring spec §5's bounded-concurrency defaults
	// (C4 50, C5 20, C6 20, C3 10 per character instance).
	VectorPoolSize     int `env:"VECTOR_POOL_SIZE" envDefault:"50"`
	RelationalPoolSize int `env:"RELATIONAL_POOL_SIZE" envDefault:"20"`
	TimeSeriesPoolSize int `env:"TIMESERIES_POOL_SIZE" envDefault:"20"`
	LLMPoolSize        int `env:"LLM_POOL_SIZE" envDefault:"10"`

	// Embedder / emotion analyzer endpoints (C1/C2 external collaborators).
	EmbedderBaseURL string `env:"EMBEDDER_BASE_URL" envDefault:"https://api.openai.com/v1"`
	EmbedderAPIKey  string `env:"EMBEDDER_API_KEY"`
	EmbedderModel   string `env:"EMBEDDER_MODEL" envDefault:"text-embedding-3-small"`
	EmotionAnalyzerBaseURL string `env:"EMOTION_ANALYZER_BASE_URL"`
	EmotionAnalyzerAPIKey  string `env:"EMOTION_ANALYZER_API_KEY"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
