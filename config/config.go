package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// JWT
	JWTSecret    string
	JWTExpiresIn time.Duration

	// AWS S3
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3BucketName       string
	ExportBucketName   string

	// Server
	Port   string
	AppEnv string

	// Logging
	LogLevel string
	LogFile  string

	// Ledger
	VoucherPrefix string
	ExportCron    string

	// Feature Toggles
	ExportEnabled bool
	SkipMigrate   bool
}

// GetDSN builds the connection string for the configured driver.
func (c *Config) GetDSN() string {
	switch c.DBDriver {
	case "postgres":
		return "host=" + c.DBHost + " port=" + c.DBPort + " user=" + c.DBUser + " password=" + c.DBPassword +
			" dbname=" + c.DBName + " sslmode=disable TimeZone=UTC"
	case "sqlite":
		return c.DBName + ".db"
	default:
		return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?charset=utf8mb4&parseTime=True&loc=UTC"
	}
}

var AppConfig *Config

func LoadConfig() {
	useSSM := getEnv("USE_SSM", "false") == "true"

	var paramMap map[string]string

	basePath := getEnv("SSM_BASE_PATH", "/stepschool")
	stage := getEnv("STAGE", getEnv("APP_ENV", "production"))
	basePath = strings.TrimRight(basePath, "/")
	prefix := basePath + "/" + stage

	if useSSM {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(getEnv("AWS_REGION", "ap-south-1"))})
		if err != nil {
			log.Fatal("Failed to create AWS session:", err)
		}
		log.Printf("Using AWS SSM Parameter Store (prefix=%s)", prefix)
		paramMap = fetchSSMParameters(ssm.New(sess), prefix)
	} else {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: .env file not found, using environment variables")
		}
	}

	src := source{params: paramMap}
	jwtExpires, err := ParseDuration(src.str("JWT_EXPIRES_IN", "24h"))
	if err != nil {
		log.Fatal("Invalid JWT_EXPIRES_IN format:", err)
	}

	AppConfig = &Config{
		DBDriver:   strings.ToLower(src.str("DB_DRIVER", "mysql")),
		DBHost:     src.str("DB_HOST", "localhost"),
		DBPort:     src.str("DB_PORT", "3306"),
		DBUser:     src.str("DB_USER", "root"),
		DBPassword: src.str("DB_PASSWORD", ""),
		DBName:     src.str("DB_NAME", "stepschool"),

		RedisHost:     src.str("REDIS_HOST", "localhost"),
		RedisPort:     src.str("REDIS_PORT", "6379"),
		RedisPassword: src.str("REDIS_PASSWORD", ""),

		JWTSecret:    src.str("JWT_SECRET", "your_super_secret_jwt_key"),
		JWTExpiresIn: jwtExpires,

		AWSRegion:          src.str("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:     src.str("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: src.str("AWS_SECRET_ACCESS_KEY", ""),
		S3BucketName:       src.str("S3_BUCKET_NAME", "stepschool-documents"),
		ExportBucketName:   src.str("EXPORT_BUCKET_NAME", src.str("S3_BUCKET_NAME", "stepschool-documents")),

		Port:   src.str("PORT", "3000"),
		AppEnv: src.str("APP_ENV", "development"),

		LogLevel: src.str("LOG_LEVEL", "info"),
		LogFile:  src.str("LOG_FILE", "logs/app.log"),

		VoucherPrefix: strings.ToUpper(src.str("VOUCHER_PREFIX", "SS")),
		ExportCron:    src.str("EXPORT_CRON", "30 1 * * *"),

		ExportEnabled: src.flag("EXPORT_ENABLED"),
		SkipMigrate:   src.flag("SKIP_MIGRATE"),
	}

	if err := AppConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration (SSM=%v): %v", useSSM, err)
	}
}

// ParseDuration accepts Go durations plus the day/week shorthands used in .env files ("7d", "2w").
func ParseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err == nil {
		return d, nil
	}
	s := strings.TrimSpace(strings.ToLower(raw))
	if len(s) > 1 {
		if n, err2 := strconv.Atoi(s[:len(s)-1]); err2 == nil {
			switch s[len(s)-1] {
			case 'd':
				return time.Duration(n) * 24 * time.Hour, nil
			case 'w':
				return time.Duration(n*7) * 24 * time.Hour, nil
			}
		}
	}
	return 0, err
}

// source resolves a key from SSM first, then the environment.
type source struct {
	params map[string]string
}

func (s source) str(key, def string) string {
	if v := s.params[key]; v != "" {
		return v
	}
	return getEnv(key, def)
}

func (s source) flag(key string) bool {
	v, err := strconv.ParseBool(s.str(key, "false"))
	return err == nil && v
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// fetchSSMParameters loads every parameter under prefix, keyed by the upper-cased last path segment.
func fetchSSMParameters(client ssmiface.SSMAPI, prefix string) map[string]string {
	params := make(map[string]string)
	in := &ssm.GetParametersByPathInput{
		Path:           aws.String(prefix),
		Recursive:      aws.Bool(true),
		WithDecryption: aws.Bool(true),
	}
	err := client.GetParametersByPathPages(in, func(page *ssm.GetParametersByPathOutput, _ bool) bool {
		for _, p := range page.Parameters {
			name, value := aws.StringValue(p.Name), aws.StringValue(p.Value)
			key := strings.ToUpper(path.Base(name))
			if name == "" || key == "" || key == "/" || key == "." {
				continue
			}
			params[key] = value
		}
		return true
	})
	if err != nil {
		log.Printf("Warning: SSM lookup under %s failed: %v", prefix, err)
	}
	return params
}

// Validate reports settings the server cannot start with. Secrets are only enforced in production.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (mysql, postgres, sqlite)", c.DBDriver)
	}
	if !strings.EqualFold(c.AppEnv, "production") {
		return nil
	}
	if strings.TrimSpace(c.DBPassword) == "" && c.DBDriver != "sqlite" {
		return errors.New("DB_PASSWORD is required in production")
	}
	if len(strings.TrimSpace(c.JWTSecret)) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters in production")
	}
	return nil
}
