package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// VADConfig is the named threshold table driving speech classification.
// The defaults are empirically tuned values, not derived quantities; treat
// them as tunables and keep them fixed for the duration of a run so window
// sizing and thresholds stay calibrated against each other.
type VADConfig struct {
	// Amplitude floors partition samples into silence/speech/music/loud bands.
	SilenceFloor float64 `yaml:"silence_floor"`
	SpeechFloor  float64 `yaml:"speech_floor"`
	MusicFloor   float64 `yaml:"music_floor"`
	LoudFloor    float64 `yaml:"loud_floor"`

	// Ratio thresholds for the prioritized decision rules.
	PrimarySpeechRatio   float64 `yaml:"primary_speech_ratio"`
	SecondarySpeechRatio float64 `yaml:"secondary_speech_ratio"`
	TertiarySpeechRatio  float64 `yaml:"tertiary_speech_ratio"`
	LowSpeechRatio       float64 `yaml:"low_speech_ratio"`
	ActivityRatio        float64 `yaml:"activity_ratio"`
	LoudRatio            float64 `yaml:"loud_ratio"`
	MusicRatio           float64 `yaml:"music_ratio"`
	MaxEnergyStdDev      float64 `yaml:"max_energy_std_dev"`

	// Smoothing overrides that bypass the majority vote.
	AlwaysSpeechRatio     float64 `yaml:"always_speech_ratio"`
	AlwaysLoudRatio       float64 `yaml:"always_loud_ratio"`
	AlwaysSilenceActivity float64 `yaml:"always_silence_activity"`
	AlwaysSilenceSpeech   float64 `yaml:"always_silence_speech"`

	HistorySize int `yaml:"history_size"`

	// Persistence extension bridges natural pauses inside an utterance.
	PersistenceWindowMS int `yaml:"persistence_window_ms"`
	MinRecentSpeechMS   int `yaml:"min_recent_speech_ms"`

	// Boundary detection: sustained silence after speech.
	BoundarySilenceMS int `yaml:"boundary_silence_ms"`
}

// GateConfig tunes the quality gate and its anti-hallucination silence mode.
type GateConfig struct {
	QualityFloor     float64 `yaml:"quality_floor"`
	SecondaryFloor   float64 `yaml:"secondary_floor"`
	ForcedFloor      float64 `yaml:"forced_floor"`
	ForcedTimeoutMS  int     `yaml:"forced_timeout_ms"`
	MinWindowMS      int     `yaml:"min_window_ms"`
	MonoRateLimitMS  int     `yaml:"mono_rate_limit_ms"`
	DualRateLimitMS  int     `yaml:"dual_rate_limit_ms"`
	MaxLowQuality    int     `yaml:"max_low_quality"`
	SilenceTimeoutMS int     `yaml:"silence_timeout_ms"`
}

// RefineConfig tunes the continuity and duplicate post-processing.
type RefineConfig struct {
	DuplicateWindowMS int `yaml:"duplicate_window_ms"`
	MinExtensionDelta int `yaml:"min_extension_delta"`
	MinExtensionBase  int `yaml:"min_extension_base"`
	MaxContextLen     int `yaml:"max_context_len"`
}

// Channel routing modes.
const (
	ModeMono = "mono"
	ModeDual = "dual"
)

type EngineConfig struct {
	Mode          string `yaml:"mode"` // mono or dual
	SampleRate    int    `yaml:"sample_rate"`
	MonoWindowMS  int    `yaml:"mono_window_ms"`
	DualWindowMS  int    `yaml:"dual_window_ms"`
	Language      string `yaml:"language"`
	LeftLanguage  string `yaml:"left_language"`
	RightLanguage string `yaml:"right_language"`
	LeftSpeaker   string `yaml:"left_speaker"`
	RightSpeaker  string `yaml:"right_speaker"`

	VAD    VADConfig    `yaml:"vad"`
	Gate   GateConfig   `yaml:"gate"`
	Refine RefineConfig `yaml:"refine"`
}

type BackendConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, whisper
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type TranscriptStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string                `yaml:"runtime_name"`
	Environment string                `yaml:"environment"`
	HTTP        HTTPConfig            `yaml:"http"`
	Telemetry   TelemetryConfig       `yaml:"telemetry"`
	Bus         BusConfig             `yaml:"bus"`
	Engine      EngineConfig          `yaml:"engine"`
	Backend     BackendConfig         `yaml:"backend"`
	Store       TranscriptStoreConfig `yaml:"transcript_store"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-scribe",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Engine: EngineConfig{
			Mode:          ModeMono,
			SampleRate:    16000,
			MonoWindowMS:  3000,
			DualWindowMS:  5000,
			Language:      "en",
			LeftLanguage:  "en",
			RightLanguage: "en",
			LeftSpeaker:   "Speaker 1",
			RightSpeaker:  "Speaker 2",
			VAD:           DefaultVAD(),
			Gate:          DefaultGate(),
			Refine:        DefaultRefine(),
		},
		Backend: BackendConfig{
			Mode:      "mock",
			TimeoutMS: 30000,
		},
		Store: TranscriptStoreConfig{
			Path:          "./data/scribe-transcripts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

// DefaultVAD returns the tuned classification thresholds.
func DefaultVAD() VADConfig {
	return VADConfig{
		SilenceFloor:          0.010,
		SpeechFloor:           0.020,
		MusicFloor:            0.050,
		LoudFloor:             0.100,
		PrimarySpeechRatio:    0.15,
		SecondarySpeechRatio:  0.05,
		TertiarySpeechRatio:   0.08,
		LowSpeechRatio:        0.03,
		ActivityRatio:         0.25,
		LoudRatio:             0.05,
		MusicRatio:            0.15,
		MaxEnergyStdDev:       0.08,
		AlwaysSpeechRatio:     0.30,
		AlwaysLoudRatio:       0.20,
		AlwaysSilenceActivity: 0.05,
		AlwaysSilenceSpeech:   0.01,
		HistorySize:           3,
		PersistenceWindowMS:   2000,
		MinRecentSpeechMS:     600,
		BoundarySilenceMS:     700,
	}
}

func DefaultGate() GateConfig {
	return GateConfig{
		QualityFloor:     0.10,
		SecondaryFloor:   0.12,
		ForcedFloor:      0.35,
		ForcedTimeoutMS:  10000,
		MinWindowMS:      1000,
		MonoRateLimitMS:  1500,
		DualRateLimitMS:  2500,
		MaxLowQuality:    3,
		SilenceTimeoutMS: 8000,
	}
}

func DefaultRefine() RefineConfig {
	return RefineConfig{
		DuplicateWindowMS: 5000,
		MinExtensionDelta: 3,
		MinExtensionBase:  5,
		MaxContextLen:     16,
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SCRIBE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "SCRIBE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Engine.Mode, "SCRIBE_ENGINE_MODE")
	overrideInt(&cfg.Engine.SampleRate, "SCRIBE_ENGINE_SAMPLE_RATE")
	overrideInt(&cfg.Engine.MonoWindowMS, "SCRIBE_ENGINE_MONO_WINDOW_MS")
	overrideInt(&cfg.Engine.DualWindowMS, "SCRIBE_ENGINE_DUAL_WINDOW_MS")
	overrideString(&cfg.Engine.Language, "SCRIBE_ENGINE_LANGUAGE")
	overrideString(&cfg.Engine.LeftLanguage, "SCRIBE_ENGINE_LEFT_LANGUAGE")
	overrideString(&cfg.Engine.RightLanguage, "SCRIBE_ENGINE_RIGHT_LANGUAGE")
	overrideString(&cfg.Engine.LeftSpeaker, "SCRIBE_ENGINE_LEFT_SPEAKER")
	overrideString(&cfg.Engine.RightSpeaker, "SCRIBE_ENGINE_RIGHT_SPEAKER")
	overrideFloat(&cfg.Engine.VAD.PrimarySpeechRatio, "SCRIBE_VAD_PRIMARY_SPEECH_RATIO")
	overrideFloat(&cfg.Engine.VAD.SilenceFloor, "SCRIBE_VAD_SILENCE_FLOOR")
	overrideFloat(&cfg.Engine.VAD.SpeechFloor, "SCRIBE_VAD_SPEECH_FLOOR")
	overrideFloat(&cfg.Engine.Gate.QualityFloor, "SCRIBE_GATE_QUALITY_FLOOR")
	overrideInt(&cfg.Engine.Gate.MaxLowQuality, "SCRIBE_GATE_MAX_LOW_QUALITY")
	overrideInt(&cfg.Engine.Gate.SilenceTimeoutMS, "SCRIBE_GATE_SILENCE_TIMEOUT_MS")
	overrideString(&cfg.Backend.Mode, "SCRIBE_BACKEND_MODE")
	overrideString(&cfg.Backend.Command, "SCRIBE_BACKEND_COMMAND")
	overrideString(&cfg.Backend.ModelPath, "SCRIBE_BACKEND_MODEL_PATH")
	overrideInt(&cfg.Backend.TimeoutMS, "SCRIBE_BACKEND_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "SCRIBE_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "SCRIBE_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "SCRIBE_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxSessions, "SCRIBE_STORE_MAX_SESSIONS")
	overrideBool(&cfg.Store.VacuumOnStart, "SCRIBE_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Engine.Mode {
	case ModeMono, ModeDual:
	default:
		return errors.New("engine.mode must be one of mono|dual")
	}
	if cfg.Engine.SampleRate <= 0 {
		return errors.New("engine.sample_rate must be positive")
	}
	if cfg.Engine.MonoWindowMS <= 0 || cfg.Engine.DualWindowMS <= 0 {
		return errors.New("engine window sizes must be positive")
	}
	if cfg.Engine.VAD.HistorySize <= 0 {
		return errors.New("engine.vad.history_size must be >= 1")
	}
	if cfg.Engine.Gate.MaxLowQuality <= 0 {
		return errors.New("engine.gate.max_low_quality must be >= 1")
	}
	if cfg.Engine.Gate.SilenceTimeoutMS <= 0 {
		return errors.New("engine.gate.silence_timeout_ms must be positive")
	}
	switch cfg.Backend.Mode {
	case "mock", "exec", "whisper":
	default:
		return errors.New("backend.mode must be one of mock|exec|whisper")
	}
	if cfg.Backend.Mode == "exec" && cfg.Backend.Command == "" {
		return errors.New("backend.command must be set when mode=exec")
	}
	if cfg.Backend.Mode == "whisper" && cfg.Backend.ModelPath == "" {
		return errors.New("backend.model_path must be set when mode=whisper")
	}
	if cfg.Backend.TimeoutMS <= 0 {
		return errors.New("backend.timeout_ms must be positive")
	}
	if cfg.Store.Path == "" {
		return errors.New("transcript_store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("transcript_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("transcript_store.retention_days must be >= 0")
	}
	return nil
}
