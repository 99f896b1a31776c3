package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/the127/upyard/internal/args"

	"github.com/dustin/go-humanize"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Upload  UploadConfig
	Auth    AuthConfig
	Catalog CatalogConfig
	Events  EventsConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	BindAddress     string
	ExternalUrl     string
	ExternalDomain  string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

type StorageMode string

const (
	StorageModeDirectory StorageMode = "directory"
	StorageModeInMemory  StorageMode = "memory"
)

type StorageConfig struct {
	Mode StorageMode
	// CapacityCeiling is a human readable size, e.g. "200 GiB".
	CapacityCeiling      string
	CapacityCeilingBytes int64 `koanf:"-"`
	StagingDir           string
	FinalDir             string
	Preallocate          bool
}

type UploadConfig struct {
	DefaultChunkSize    string
	MinChunkSize        string
	MaxChunkSize        string
	SessionIdleTimeout  time.Duration
	TerminalGracePeriod time.Duration
	SweepInterval       time.Duration
	DigestAlgorithm     string

	DefaultChunkSizeBytes int64 `koanf:"-"`
	MinChunkSizeBytes     int64 `koanf:"-"`
	MaxChunkSizeBytes     int64 `koanf:"-"`
}

type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeStatic AuthMode = "static"
	AuthModeJwt    AuthMode = "jwt"
	AuthModeOidc   AuthMode = "oidc"
)

type AuthConfig struct {
	Mode   AuthMode
	Tokens []string
	Jwt    struct {
		Secret   string
		Issuer   string
		Audience string
	}
	Oidc struct {
		Issuer   string
		ClientId string
	}
}

type CatalogMode string

const (
	CatalogModeInMemory CatalogMode = "memory"
	CatalogModePostgres CatalogMode = "postgres"
)

type CatalogConfig struct {
	Mode     CatalogMode
	Postgres struct {
		Host     string
		Port     int
		Database string
		Username string
		Password string
		SslMode  string
	}
}

type EventsMode string

const (
	EventsModeInMemory EventsMode = "memory"
	EventsModeRedis    EventsMode = "redis"
)

type EventsConfig struct {
	Mode  EventsMode
	Redis struct {
		Host     string
		Port     int
		Username string
		Password string
		Database int
		Channel  string
	}
}

var C Config

var k = koanf.New(".")

func Init() {
	if args.ConfigFilePath() != "" {
		_, err := os.Stat(args.ConfigFilePath())
		if err != nil {
			panic(fmt.Errorf("failed to stat config file: %w", err))
		}

		err = k.Load(file.Provider(args.ConfigFilePath()), yaml.Parser())
		if err != nil {
			panic(fmt.Errorf("failed to load config file: %w", err))
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: "UPYARD_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, "UPYARD_")), "_", ".")

			if strings.Contains(v, " ") {
				return k, strings.Split(v, " ")
			}

			return k, v
		},
	}), nil)
	if err != nil {
		panic(fmt.Errorf("failed to load env provider: %w", err))
	}

	err = k.Unmarshal("", &C)
	if err != nil {
		panic(fmt.Errorf("failed to unmarshal config: %w", err))
	}

	setDefaultsOrPanic()
}

func setDefaultsOrPanic() {
	setServerDefaultsOrPanic()
	setStorageDefaultsOrPanic()
	setUploadDefaultsOrPanic()
	setAuthDefaultsOrPanic()
	setCatalogDefaultsOrPanic()
	setEventsDefaultsOrPanic()
}

func setServerDefaultsOrPanic() {
	if C.Server.Host == "" {
		if args.IsProduction() {
			panic("Server.Host must be set in production.")
		}

		C.Server.Host = "localhost"
	}

	if C.Server.Port == 0 {
		C.Server.Port = 8080
	}

	if C.Server.BindAddress == "" {
		C.Server.BindAddress = fmt.Sprintf("%s:%d", C.Server.Host, C.Server.Port)
	}

	if C.Server.ExternalUrl == "" {
		if args.IsProduction() {
			panic("Server.ExternalUrl must be set in production.")
		}

		C.Server.ExternalUrl = fmt.Sprintf("http://%s:%d", C.Server.Host, C.Server.Port)
	}

	if C.Server.ExternalDomain == "" {
		externalUrl, err := url.Parse(C.Server.ExternalUrl)
		if err != nil {
			panic(fmt.Errorf("failed to parse external url: %w", err))
		}

		C.Server.ExternalDomain = externalUrl.Hostname()
	}

	if C.Server.ShutdownTimeout == 0 {
		C.Server.ShutdownTimeout = 30 * time.Second
	}
}

func setStorageDefaultsOrPanic() {
	if C.Storage.Mode == "" {
		C.Storage.Mode = StorageModeDirectory
	}

	switch C.Storage.Mode {
	case StorageModeDirectory:
		break

	case StorageModeInMemory:
		if args.IsProduction() {
			panic("Storage.Mode memory is not supported in production.")
		}

	default:
		panic(fmt.Errorf("unsupported storage mode: %s", C.Storage.Mode))
	}

	if C.Storage.CapacityCeiling == "" {
		if args.IsProduction() {
			panic("Storage.CapacityCeiling must be set in production.")
		}

		C.Storage.CapacityCeiling = "10 GiB"
	}

	C.Storage.CapacityCeilingBytes = parseSizeOrPanic("Storage.CapacityCeiling", C.Storage.CapacityCeiling)

	if C.Storage.StagingDir == "" {
		if args.IsProduction() {
			panic("Storage.StagingDir must be set in production.")
		}

		C.Storage.StagingDir = "data/staging"
	}

	if C.Storage.FinalDir == "" {
		if args.IsProduction() {
			panic("Storage.FinalDir must be set in production.")
		}

		C.Storage.FinalDir = "data/artifacts"
	}
}

func setUploadDefaultsOrPanic() {
	if C.Upload.DefaultChunkSize == "" {
		C.Upload.DefaultChunkSize = "16 MiB"
	}

	if C.Upload.MinChunkSize == "" {
		C.Upload.MinChunkSize = "64 KiB"
	}

	if C.Upload.MaxChunkSize == "" {
		C.Upload.MaxChunkSize = "64 MiB"
	}

	C.Upload.DefaultChunkSizeBytes = parseSizeOrPanic("Upload.DefaultChunkSize", C.Upload.DefaultChunkSize)
	C.Upload.MinChunkSizeBytes = parseSizeOrPanic("Upload.MinChunkSize", C.Upload.MinChunkSize)
	C.Upload.MaxChunkSizeBytes = parseSizeOrPanic("Upload.MaxChunkSize", C.Upload.MaxChunkSize)

	if C.Upload.MinChunkSizeBytes <= 0 || C.Upload.MinChunkSizeBytes > C.Upload.MaxChunkSizeBytes {
		panic("Upload.MinChunkSize must be positive and not larger than Upload.MaxChunkSize.")
	}

	if C.Upload.DefaultChunkSizeBytes < C.Upload.MinChunkSizeBytes || C.Upload.DefaultChunkSizeBytes > C.Upload.MaxChunkSizeBytes {
		panic("Upload.DefaultChunkSize must be between Upload.MinChunkSize and Upload.MaxChunkSize.")
	}

	if C.Upload.SessionIdleTimeout == 0 {
		C.Upload.SessionIdleTimeout = 15 * time.Minute
	}

	if C.Upload.TerminalGracePeriod == 0 {
		C.Upload.TerminalGracePeriod = 10 * time.Minute
	}

	if C.Upload.SweepInterval == 0 {
		C.Upload.SweepInterval = time.Minute
	}

	if C.Upload.DigestAlgorithm == "" {
		C.Upload.DigestAlgorithm = "sha256"
	}

	switch C.Upload.DigestAlgorithm {
	case "sha256", "blake3":
		return

	default:
		panic(fmt.Errorf("unsupported digest algorithm: %s", C.Upload.DigestAlgorithm))
	}
}

func setAuthDefaultsOrPanic() {
	if C.Auth.Mode == "" {
		if args.IsProduction() {
			panic("Auth.Mode must be set in production.")
		}

		C.Auth.Mode = AuthModeNone
	}

	switch C.Auth.Mode {
	case AuthModeNone:
		return

	case AuthModeStatic:
		if len(C.Auth.Tokens) == 0 {
			panic("Auth.Tokens must contain at least one token in static mode.")
		}

	case AuthModeJwt:
		if C.Auth.Jwt.Secret == "" {
			panic("Auth.Jwt.Secret must be set in jwt mode.")
		}

	case AuthModeOidc:
		if C.Auth.Oidc.Issuer == "" {
			panic("Auth.Oidc.Issuer must be set to the oidc issuer url.")
		}

		if C.Auth.Oidc.ClientId == "" {
			panic("Auth.Oidc.ClientId must be set to the oidc client id.")
		}

	default:
		panic(fmt.Errorf("unsupported auth mode: %s", C.Auth.Mode))
	}
}

func setCatalogDefaultsOrPanic() {
	if C.Catalog.Mode == "" {
		if args.IsProduction() {
			panic("Catalog.Mode must be set in production.")
		}

		C.Catalog.Mode = CatalogModeInMemory
	}

	switch C.Catalog.Mode {
	case CatalogModeInMemory:
		return

	case CatalogModePostgres:
		setCatalogPostgresDefaultsOrPanic()

	default:
		panic(fmt.Errorf("unsupported catalog mode: %s", C.Catalog.Mode))
	}
}

func setCatalogPostgresDefaultsOrPanic() {
	if C.Catalog.Postgres.Host == "" {
		if args.IsProduction() {
			panic("Catalog.Postgres.Host must be set in production.")
		}

		C.Catalog.Postgres.Host = "localhost"
	}

	if C.Catalog.Postgres.Port == 0 {
		C.Catalog.Postgres.Port = 5432
	}

	if C.Catalog.Postgres.Database == "" {
		C.Catalog.Postgres.Database = "upyard"
	}

	if C.Catalog.Postgres.SslMode == "" {
		C.Catalog.Postgres.SslMode = "disable"
	}
}

func setEventsDefaultsOrPanic() {
	if C.Events.Mode == "" {
		C.Events.Mode = EventsModeInMemory
	}

	switch C.Events.Mode {
	case EventsModeInMemory:
		return

	case EventsModeRedis:
		setEventsRedisDefaultsOrPanic()

	default:
		panic(fmt.Errorf("unsupported events mode: %s", C.Events.Mode))
	}
}

func setEventsRedisDefaultsOrPanic() {
	if C.Events.Redis.Host == "" {
		if args.IsProduction() {
			panic("Events.Redis.Host must be set in production.")
		}

		C.Events.Redis.Host = "localhost"
	}

	if C.Events.Redis.Port == 0 {
		C.Events.Redis.Port = 6379
	}

	if C.Events.Redis.Channel == "" {
		C.Events.Redis.Channel = "upyard:events"
	}
}

func parseSizeOrPanic(name string, value string) int64 {
	size, err := humanize.ParseBytes(value)
	if err != nil {
		panic(fmt.Errorf("failed to parse %s: %w", name, err))
	}

	return int64(size)
}
