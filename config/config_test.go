package config

import (
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	ssmiface.SSMAPI
	pages [][]*ssm.Parameter
	err   error
}

func (f *fakeSSM) GetParametersByPathPages(in *ssm.GetParametersByPathInput, fn func(*ssm.GetParametersByPathOutput, bool) bool) error {
	for i, page := range f.pages {
		if !fn(&ssm.GetParametersByPathOutput{Parameters: page}, i == len(f.pages)-1) {
			break
		}
	}
	return f.err
}

func param(name, value string) *ssm.Parameter {
	return &ssm.Parameter{Name: aws.String(name), Value: aws.String(value)}
}

func TestFetchSSMParametersWalksPages(t *testing.T) {
	client := &fakeSSM{pages: [][]*ssm.Parameter{
		{param("/stepschool/production/db_host", "db.internal"), param("/stepschool/production/", "ignored")},
		{param("/stepschool/production/jwt_secret", "s3cret")},
	}}

	got := fetchSSMParameters(client, "/stepschool/production")
	assert.Equal(t, "db.internal", got["DB_HOST"])
	assert.Equal(t, "s3cret", got["JWT_SECRET"])
}

func TestFetchSSMParametersKeepsPartialResultOnError(t *testing.T) {
	client := &fakeSSM{pages: [][]*ssm.Parameter{{param("/p/port", "8080")}}, err: errors.New("throttled")}
	got := fetchSSMParameters(client, "/p")
	assert.Equal(t, map[string]string{"PORT": "8080"}, got)
}

func TestSourcePrefersSSM(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("EXPORT_ENABLED", "TRUE")

	assert.Equal(t, "9000", source{params: map[string]string{"PORT": "9000"}}.str("PORT", "3000"))
	assert.Equal(t, "4000", source{}.str("PORT", "3000"))
	assert.Equal(t, "fallback", source{}.str("UNSET_STEPSCHOOL_KEY", "fallback"))
	assert.True(t, source{}.flag("EXPORT_ENABLED"))
	assert.False(t, source{params: map[string]string{"SKIP_MIGRATE": "nope"}}.flag("SKIP_MIGRATE"))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"90m", 90 * time.Minute},
		{"7d", 7 * 24 * time.Hour},
		{"2W", 14 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseDuration("soon")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "dev sqlite", cfg: Config{DBDriver: "sqlite", AppEnv: "development"}},
		{name: "unknown driver", cfg: Config{DBDriver: "oracle"}, wantErr: "unsupported DB_DRIVER"},
		{name: "prod without password", cfg: Config{DBDriver: "mysql", AppEnv: "production", JWTSecret: "0123456789abcdef"}, wantErr: "DB_PASSWORD"},
		{name: "prod short secret", cfg: Config{DBDriver: "postgres", AppEnv: "Production", DBPassword: "pw", JWTSecret: "short"}, wantErr: "JWT_SECRET"},
		{name: "prod ok", cfg: Config{DBDriver: "postgres", AppEnv: "production", DBPassword: "pw", JWTSecret: "0123456789abcdef"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDSN(t *testing.T) {
	cfg := Config{DBDriver: "mysql", DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: "3306", DBName: "fees"}
	assert.Equal(t, "u:p@tcp(h:3306)/fees?charset=utf8mb4&parseTime=True&loc=UTC", cfg.GetDSN())

	cfg.DBDriver = "sqlite"
	assert.Equal(t, "fees.db", cfg.GetDSN())
}
