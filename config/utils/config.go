// Package config provides utilities to load environment variables & set config structs, it includes app, logger, db, redis, events, bee, router, reaper, http and schedule settings.
package config

import (
	"log"
	"strings"
	"time"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// AppConfig contains environment variables for the application, database, cache, event bus, bees and http server
type (
	AppConfig struct {
		App        *App        `mapstructure:"app"`
		Redis      *Redis      `mapstructure:"redis"`
		Logger     *Logger     `mapstructure:"logger"`
		DB         *DB         `mapstructure:"db"`
		Events     *Events     `mapstructure:"events"`
		Bee        *Bee        `mapstructure:"bee"`
		Router     *Router     `mapstructure:"router"`
		Reaper     *Reaper     `mapstructure:"reaper"`
		Await      *Await      `mapstructure:"await"`
		Cache      *Cache      `mapstructure:"cache"`
		HTTP       *HTTP       `mapstructure:"http"`
		Prometheus *Prometheus `mapstructure:"prometheus"`
		Schedules  []*Schedule `mapstructure:"schedules"`
	}

	// App contains all the environment variables for the application
	App struct {
		Name  string `mapstructure:"name"`
		Env   string `mapstructure:"env"`
		Owner string `mapstructure:"owner"`
	}

	// Redis contains all the environment variables for the cache service
	Redis struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	}

	// DB contains all the environment variables for the database.
	// Connection is either postgres or sqlite; Path is only read for sqlite.
	DB struct {
		Connection string `mapstructure:"connection"`
		Database   string `mapstructure:"database"`
		Host       string `mapstructure:"host"`
		Port       string `mapstructure:"port"`
		User       string `mapstructure:"user"`
		Password   string `mapstructure:"password"`
		Name       string `mapstructure:"name"`
		MaxConns   int32  `mapstructure:"maxConns"`
		Path       string `mapstructure:"path"`
	}

	// Logger contains all the environment variables for the logger
	Logger struct {
		Level             string                `mapstructure:"level"`
		Development       bool                  `mapstructure:"development"`
		DisableStacktrace bool                  `mapstructure:"disableStacktrace"`
		Encoding          string                `mapstructure:"encoding"`
		EncoderConfig     zapcore.EncoderConfig `mapstructure:"encoderConfig"`
	}

	// Events selects the task event bus: rabbitmq, redis or none
	Events struct {
		Driver   string `mapstructure:"driver"`
		AMQPURL  string `mapstructure:"amqpURL"`
		Exchange string `mapstructure:"exchange"`
	}

	// Bee contains the poller settings
	Bee struct {
		ID                string        `mapstructure:"id"`
		Count             int           `mapstructure:"count"`
		Interval          time.Duration `mapstructure:"interval"`
		Types             []string      `mapstructure:"types"`
		HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
		HeartbeatTTL      time.Duration `mapstructure:"heartbeatTTL"`
		Require           []string      `mapstructure:"require"`
	}

	// Router maps task types to capabilities
	Router struct {
		Default string                  `mapstructure:"default"`
		Rules   []domain.CapabilityRule `mapstructure:"rules"`
	}

	// Reaper fails tasks whose owner stopped heartbeating
	Reaper struct {
		Interval   time.Duration `mapstructure:"interval"`
		StuckAfter time.Duration `mapstructure:"stuckAfter"`
		Batch      int           `mapstructure:"batch"`
	}

	// Await bounds completion polling done on behalf of callers
	Await struct {
		PollInterval   time.Duration `mapstructure:"pollInterval"`
		DefaultTimeout time.Duration `mapstructure:"defaultTimeout"`
		MaxTimeout     time.Duration `mapstructure:"maxTimeout"`
	}

	// Cache contains the terminal result cache settings
	Cache struct {
		TTL time.Duration `mapstructure:"ttl"`
	}

	// HTTP contains the api server settings
	HTTP struct {
		Addr string `mapstructure:"addr"`
	}

	// Prometheus is queried by the vitals handler
	Prometheus struct {
		URL string `mapstructure:"url"`
	}

	// Schedule enqueues Command on every tick of the cron Spec
	Schedule struct {
		Name     string         `mapstructure:"name"`
		Spec     string         `mapstructure:"spec"`
		Command  string         `mapstructure:"command"`
		Payload  map[string]any `mapstructure:"payload"`
		Priority string         `mapstructure:"priority"`
	}
)

// addZapEncoderConfig fills encoder config with zapcore types
func addZapEncoderConfig(cfg *zapcore.EncoderConfig) {
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.SecondsDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.EncodeName = func(s string, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString("[" + s + "]")
	}
}

// New creates a new AppConfig instance
func New() *AppConfig {
	// .env is optional, real environment wins
	_ = godotenv.Load()

	// Set up viper to read the config.yaml file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/secrets/")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("env")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Fatalf("config file not found: %v", err)
		} else {
			log.Fatalf("error reading config file: %v", err)
		}
	}

	// Bind the app.name key to the APP_NAME environment variable
	if err := viper.BindEnv("app.name", "APP_NAME"); err != nil {
		log.Fatalf("error finding APP_NAME env variable")
	}

	// Bind DB variables
	viper.BindEnv("db.connection", "DB_CONNECTION")
	viper.BindEnv("db.host", "PG_HOST")
	viper.BindEnv("db.port", "PG_PORT")
	viper.BindEnv("db.user", "PG_USER")
	viper.BindEnv("db.password", "PG_PASS")
	viper.BindEnv("db.name", "PG_DB")
	viper.BindEnv("db.path", "SQLITE_PATH")

	// Bind Redis variables
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")

	// Bind event bus, bee & http variables
	viper.BindEnv("events.driver", "EVENTS_DRIVER")
	viper.BindEnv("events.amqpURL", "AMQP_URL")
	viper.BindEnv("bee.id", "BEE_ID")
	viper.BindEnv("http.addr", "HTTP_ADDR")
	viper.BindEnv("prometheus.url", "PROMETHEUS_URL")

	// Create an instance of AppConfig
	var config *AppConfig
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("unable to decode into struct: %v", err)
	}
	config.Defaults()
	addZapEncoderConfig(&config.Logger.EncoderConfig)

	return config
}

// Defaults fills every section left empty by the config file
func (c *AppConfig) Defaults() {
	if c.App == nil {
		c.App = &App{Name: "hive"}
	}
	if c.Logger == nil {
		c.Logger = &Logger{Level: "info", Encoding: "json"}
	}
	if c.DB == nil {
		c.DB = &DB{Connection: "postgres"}
	}
	if c.DB.MaxConns <= 0 {
		c.DB.MaxConns = 4
	}
	if c.Redis == nil {
		c.Redis = &Redis{}
	}
	if c.Events == nil {
		c.Events = &Events{Driver: "none"}
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "hive.events"
	}
	if c.Bee == nil {
		c.Bee = &Bee{}
	}
	if c.Bee.Count <= 0 {
		c.Bee.Count = 1
	}
	if c.Bee.Interval <= 0 {
		c.Bee.Interval = 2 * time.Second
	}
	if c.Bee.HeartbeatInterval <= 0 {
		c.Bee.HeartbeatInterval = 10 * time.Second
	}
	if c.Bee.HeartbeatTTL <= 0 {
		c.Bee.HeartbeatTTL = 3 * c.Bee.HeartbeatInterval
	}
	if c.Router == nil {
		c.Router = &Router{}
	}
	if c.Reaper == nil {
		c.Reaper = &Reaper{}
	}
	if c.Reaper.Interval <= 0 {
		c.Reaper.Interval = time.Minute
	}
	if c.Reaper.StuckAfter <= 0 {
		c.Reaper.StuckAfter = 15 * time.Minute
	}
	if c.Reaper.Batch <= 0 {
		c.Reaper.Batch = 100
	}
	if c.Await == nil {
		c.Await = &Await{}
	}
	if c.Await.PollInterval <= 0 {
		c.Await.PollInterval = 500 * time.Millisecond
	}
	if c.Await.DefaultTimeout <= 0 {
		c.Await.DefaultTimeout = 30 * time.Second
	}
	if c.Await.MaxTimeout <= 0 {
		c.Await.MaxTimeout = 5 * time.Minute
	}
	if c.Cache == nil {
		c.Cache = &Cache{}
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = time.Hour
	}
	if c.HTTP == nil {
		c.HTTP = &HTTP{}
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Prometheus == nil {
		c.Prometheus = &Prometheus{URL: "http://localhost:9090"}
	}
}
