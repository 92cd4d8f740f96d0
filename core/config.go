package core

import (
	"fmt"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const devSecretKey = "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy"

type (
	ServerConfig struct {
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | mongo | memory
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Host          string
		Port          string
		Name          string
		DisableTLS    bool
	}

	MongoConfig struct {
		URI      string
		Database string
	}

	RedisConfig struct {
		Addr     string
		Password string
		DB       int
	}

	KafkaConfig struct {
		Brokers []string
		Topic   string
	}

	SchedulerConfig struct {
		StatusInterval   time.Duration
		DeadlineInterval time.Duration
	}

	NotifyConfig struct {
		QueueSize int
	}

	Config struct {
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		Env              string
		Build            string
		DefaultFromEmail string
		FrontendBaseURL  string
		RollbarToken     string
		SendgridApiKey   string

		Server    ServerConfig
		Database  DatabaseConfig
		Mongo     MongoConfig
		Redis     RedisConfig
		Kafka     KafkaConfig
		Scheduler SchedulerConfig
		Notify    NotifyConfig
	}
)

// Address returns the DB "host:port".
func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

// FromAddress parses DefaultFromEmail, falling back to a bare address on parse errors.
func (c *Config) FromAddress() mail.Address {
	addr, err := mail.ParseAddress(c.DefaultFromEmail)
	if err != nil {
		return mail.Address{Address: c.DefaultFromEmail}
	}
	return *addr
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "BOS Voting")
	v.SetDefault("secretKey", devSecretKey)
	v.SetDefault("build", "develop")
	v.SetDefault("defaultFromEmail", "BOS Voting <noreply@localhost>")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.user", "bosvoting")
	v.SetDefault("database.password", "bosvoting")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "bosvoting")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "bosvoting")

	v.SetDefault("redis.addr", "") // disabled
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{}) // disabled
	v.SetDefault("kafka.topic", "bos-poll-events")

	v.SetDefault("scheduler.statusInterval", 5*time.Minute)
	v.SetDefault("scheduler.deadlineInterval", time.Hour)

	v.SetDefault("notify.queueSize", 256)
}

// NewConfig loads the configuration for the environment named by $ENV (DEV by default).
// Values come from defaults, then `config/.env.<env>` (if present), then `<ENV>_*` env vars,
// e.g. PROD_DATABASE_HOST or PROD_SECRETKEY.
func NewConfig() (*Config, error) {
	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "QA", "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", dotEnvPath)
	}
	v.AutomaticEnv()

	conf := new(Config)
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(conf, hook); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	conf.Env = env
	conf.Kafka.Brokers = compact(conf.Kafka.Brokers)

	if !conf.Debug && !conf.TestMode && conf.SecretKey == devSecretKey {
		return nil, fmt.Errorf("%s_SECRETKEY must be set outside of debug mode", env)
	}
	return conf, nil
}

// NewTestConfig returns a Config suited for tests: no debug output, test mode on.
func NewTestConfig() *Config {
	return &Config{
		TestMode:         true,
		AppName:          "BOS Voting",
		SecretKey:        "test-secret",
		Env:              "TEST",
		Build:            "test",
		DefaultFromEmail: "BOS Voting <noreply@test.local>",
		FrontendBaseURL:  "http://localhost:8080",
		Server: ServerConfig{
			JWTExpirationDelta: time.Hour,
			ShutdownTimeout:    time.Second,
		},
		Database:  DatabaseConfig{Engine: "memory"},
		Kafka:     KafkaConfig{Topic: "bos-poll-events"},
		Scheduler: SchedulerConfig{StatusInterval: 5 * time.Minute, DeadlineInterval: time.Hour},
		Notify:    NotifyConfig{QueueSize: 16},
	}
}

// compact splits comma separated entries and drops blank ones.
func compact(ss []string) []string {
	var out []string
	for _, s := range ss {
		for _, part := range strings.Split(s, ",") {
			if part = CleanString(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
