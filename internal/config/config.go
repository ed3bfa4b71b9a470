package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/npezzotti/roomsync/internal/broker"
	"github.com/npezzotti/roomsync/internal/rooms"
)

const DefaultSessionTTL = 5 * time.Minute

type Config struct {
	ServerAddr     string
	DatabaseDSN    string
	SigningKey     []byte
	AllowedOrigins []string
	SessionTTL     time.Duration
	RoomKeys       string
	Broker         string
	RedisURL       string
	NatsURL        string
	SMTP           SMTPConfig
	PublicURL      string
	LogFile        string
	Production     bool
	StaticDir      string
}

type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Params are the raw settings gathered from flags and the environment.
type Params struct {
	Addr           string        `validate:"required"`
	DSN            string        `validate:"required"`
	SigningKey     string        `validate:"required,base64"`
	AllowedOrigins []string      `validate:"dive,url"`
	SessionTTL     time.Duration `validate:"gt=0"`
	RoomKeys       string        `validate:"omitempty,oneof=sequential shortid"`
	Broker         string        `validate:"omitempty,oneof=local redis nats"`
	RedisURL       string        `validate:"required_if=Broker redis"`
	NatsURL        string        `validate:"required_if=Broker nats"`
	SMTPHost       string
	SMTPPort       int `validate:"omitempty,min=1,max=65535"`
	SMTPUser       string
	SMTPPassword   string
	SMTPFrom       string `validate:"required_with=SMTPHost"`
	PublicURL      string `validate:"required,url"`
	LogFile        string
	Production     bool
	StaticDir      string
}

var validate = validator.New()

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(p Params) (*Config, error) {
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	signingKey, err := decodeSigningSecret(p.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	roomKeys := p.RoomKeys
	if roomKeys == "" {
		roomKeys = rooms.SchemeShortId
	}
	brokerKind := p.Broker
	if brokerKind == "" {
		brokerKind = broker.KindLocal
	}

	return &Config{
		ServerAddr:     p.Addr,
		DatabaseDSN:    p.DSN,
		SigningKey:     signingKey,
		AllowedOrigins: p.AllowedOrigins,
		SessionTTL:     p.SessionTTL,
		RoomKeys:       roomKeys,
		Broker:         brokerKind,
		RedisURL:       p.RedisURL,
		NatsURL:        p.NatsURL,
		SMTP: SMTPConfig{
			Host:     p.SMTPHost,
			Port:     p.SMTPPort,
			User:     p.SMTPUser,
			Password: p.SMTPPassword,
			From:     p.SMTPFrom,
		},
		PublicURL:  strings.TrimSuffix(p.PublicURL, "/"),
		LogFile:    p.LogFile,
		Production: p.Production,
		StaticDir:  p.StaticDir,
	}, nil
}

// LoadEnv reads a .env file into the process environment if one exists.
// Variables already set are not overridden.
func LoadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

func Getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func GetenvInt(key string, def int) int {
	n, err := strconv.Atoi(Getenv(key, ""))
	if err != nil {
		return def
	}
	return n
}

func GetenvBool(key string, def bool) bool {
	b, err := strconv.ParseBool(Getenv(key, ""))
	if err != nil {
		return def
	}
	return b
}

func GetenvDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(Getenv(key, ""))
	if err != nil {
		return def
	}
	return d
}
