package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/talk-practice/backend/internal/service/ai/azure"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	AI         AIConfig
	Moderation ModerationConfig
	Store      StoreConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	moderation, err := loadModerationConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Moderation: moderation, Store: store}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// Provider 标识大模型服务商。
type Provider string

const (
	ProviderArk   Provider = "ark"
	ProviderAzure Provider = "azure"
)

// Models maps tiers to provider model names (Azure deployment names).
type Models struct {
	Light  string
	Main   string
	Strong string
}

// For returns the model name for a tier, falling back to Main.
func (m Models) For(tier string) string {
	switch tier {
	case "light":
		if m.Light != "" {
			return m.Light
		}
	case "strong":
		if m.Strong != "" {
			return m.Strong
		}
	}
	return m.Main
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider Provider

	APIKey    string
	AccessKey string
	SecretKey string
	BaseURL   string
	Region    string

	AzureEndpoint string
	AzureAPIKey   string

	Models                Models
	TopP                  *float32
	TemperatureChat       *float32
	TemperatureAnnotation *float32
	MaxTokensChat         *int
	MaxTokensAnnotation   *int
	Timeout               time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Models.Main == "" {
		return false
	}
	switch c.Provider {
	case ProviderAzure:
		return c.AzureEndpoint != "" && c.AzureAPIKey != ""
	default:
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
}

// NewChatModel 使用配置创建一个模型实例。Tier-specific model names are
// applied per call, so the instance is created with the main model.
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s 凭证或模型配置缺失", c.Provider)
	}

	if c.Provider == ProviderAzure {
		client, err := azopenai.NewClientWithKeyCredential(c.AzureEndpoint, azcore.NewKeyCredential(c.AzureAPIKey), nil)
		if err != nil {
			return nil, fmt.Errorf("error creating Azure OpenAI client: %w", err)
		}
		return azure.NewChatModel(client, azure.Config{
			Deployment:  c.Models.Main,
			Temperature: c.TemperatureChat,
			MaxTokens:   c.MaxTokensChat,
			TopP:        c.TopP,
		}), nil
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Models.Main,
		MaxTokens:   c.MaxTokensChat,
		Temperature: c.TemperatureChat,
		TopP:        c.TopP,
	}
	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := Provider(strings.ToLower(getEnvOrDefault("LLM_PROVIDER", string(ProviderArk))))
	if provider != ProviderArk && provider != ProviderAzure {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	topP, err := parseOptionalFloat32Env("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	chatTemperature, err := parseFloat32EnvOrDefault("LLM_TEMPERATURE_CHAT", 0.7)
	if err != nil {
		return AIConfig{}, err
	}

	annotationTemperature, err := parseFloat32EnvOrDefault("LLM_TEMPERATURE_ANNOTATION", 0.3)
	if err != nil {
		return AIConfig{}, err
	}

	chatTokens, err := parseIntEnvOrDefault("LLM_MAX_TOKENS_CHAT", 1024)
	if err != nil {
		return AIConfig{}, err
	}

	annotationTokens, err := parseIntEnvOrDefault("LLM_MAX_TOKENS_ANNOTATION", 4096)
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("LLM_TIMEOUT", 90*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:      provider,
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		AzureEndpoint: strings.TrimSpace(os.Getenv("AZURE_OPENAI_ENDPOINT")),
		AzureAPIKey:   strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_KEY")),
		Models: Models{
			Light:  strings.TrimSpace(os.Getenv("MODEL_LIGHT")),
			Main:   strings.TrimSpace(os.Getenv("MODEL_MAIN")),
			Strong: strings.TrimSpace(os.Getenv("MODEL_STRONG")),
		},
		TopP:                  topP,
		TemperatureChat:       chatTemperature,
		TemperatureAnnotation: annotationTemperature,
		MaxTokensChat:         chatTokens,
		MaxTokensAnnotation:   annotationTokens,
		Timeout:               timeout,
	}, nil
}

// ModerationConfig 控制输入审核。
type ModerationConfig struct {
	Enabled bool
	// Policy is "observe" (log only) or "enforce" (terminate the session).
	Policy string
}

func loadModerationConfig() (ModerationConfig, error) {
	enabled, err := parseBoolEnv("MODERATION_ENABLED", true)
	if err != nil {
		return ModerationConfig{}, err
	}

	policy := strings.ToLower(getEnvOrDefault("MODERATION_POLICY", "observe"))
	if policy != "observe" && policy != "enforce" {
		return ModerationConfig{}, fmt.Errorf("invalid MODERATION_POLICY value %q", policy)
	}

	return ModerationConfig{Enabled: enabled, Policy: policy}, nil
}

// StoreConfig 选择会话存储实现。
type StoreConfig struct {
	Driver     string
	SQLitePath string
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", "memory"))
	if driver != "memory" && driver != "sqlite" {
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q", driver)
	}
	return StoreConfig{
		Driver:     driver,
		SQLitePath: getEnvOrDefault("SQLITE_PATH", "./data/sessions.db"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseIntEnvOrDefault(key string, defaultValue int) (*int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return nil, err
	}
	if val == nil {
		return &defaultValue, nil
	}
	return val, nil
}

func parseFloat32EnvOrDefault(key string, defaultValue float32) (*float32, error) {
	val, err := parseOptionalFloat32Env(key)
	if err != nil {
		return nil, err
	}
	if val == nil {
		return &defaultValue, nil
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
