package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spamforflo-arch/jarvis-and-baymax/pkg/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress  string
	AuthPassword string

	// Speech-to-text streaming engine.
	STTSocketURL string
	STTAPIKey    string

	// Synthesis engines. Deepgram is preferred when its key is present,
	// otherwise ElevenLabs, otherwise playback is disabled gracefully.
	DeepgramAPIKey  string
	DeepgramModel   string
	ElevenLabsKey   string
	ElevenLabsVoice string

	// Conversational responder gateway.
	ResponderURL string
	ResponderKey string
	WebEnabled   bool

	// Conversation store. Redis when an address is set, in-memory otherwise.
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	ContextWindow int

	// Voice interaction tunables.
	WakeWords           []string
	WakeDebounce        time.Duration
	ErrorRecovery       time.Duration
	PermissionPromptGap time.Duration
	PreferredVoice      string
	Locale              string
	FallbackUtterance   string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	logger := log.Component("config")

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded")
	}

	addr := envDefault("HTTP_ADDRESS", ":8080")

	sttURL := envDefault("STT_SOCKET_URL", "wss://streaming.assemblyai.com/v3/ws")
	sttKey := os.Getenv("STT_API_KEY")
	if sttKey == "" {
		logger.Warn("STT_API_KEY not set - server-side transcription will not work")
	}

	dgKey := os.Getenv("DEEPGRAM_API_KEY")
	elKey := os.Getenv("ELEVENLABS_API_KEY")
	if dgKey == "" && elKey == "" {
		logger.Warn("no synthesis key set - spoken playback disabled")
	}

	respURL := os.Getenv("RESPONDER_URL")
	if respURL == "" {
		logger.Warn("RESPONDER_URL not set - conversational replies fall back to the offline responder")
	}

	cfg := Config{
		HTTPAddress:  addr,
		AuthPassword: os.Getenv("AUTH_PASSWORD"),

		STTSocketURL: sttURL,
		STTAPIKey:    sttKey,

		DeepgramAPIKey:  dgKey,
		DeepgramModel:   envDefault("DEEPGRAM_MODEL", "aura-2-thalia-en"),
		ElevenLabsKey:   elKey,
		ElevenLabsVoice: os.Getenv("ELEVENLABS_VOICE_ID"),

		ResponderURL: respURL,
		ResponderKey: os.Getenv("RESPONDER_API_KEY"),
		WebEnabled:   envBool("RESPONDER_WEB_ENABLED", false),

		RedisAddress:  os.Getenv("REDIS_ADDRESS"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		ContextWindow: envInt("CONTEXT_WINDOW", 16),

		WakeWords:           envList("WAKE_WORDS", "hey jarvis,jarvis"),
		WakeDebounce:        envMillis("WAKE_DEBOUNCE_MS", 2500),
		ErrorRecovery:       envMillis("ERROR_RECOVERY_MS", 3000),
		PermissionPromptGap: envMillis("PERMISSION_PROMPT_GAP_MS", 800),
		PreferredVoice:      envDefault("PREFERRED_VOICE", "Google UK English Male"),
		Locale:              envDefault("LOCALE", "en-US"),
		FallbackUtterance:   envDefault("FALLBACK_UTTERANCE", "Sorry, I'm having trouble responding right now."),
	}

	logger.WithField("http_address", cfg.HTTPAddress).Info("configuration loaded")
	return cfg
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func envList(key, fallback string) []string {
	raw := envDefault(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
