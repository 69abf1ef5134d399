package utils

import (
	"errors"
	"testing"

	"stepschool_go/services/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPKR(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "PKR 0.00"},
		{"999", "PKR 999.00"},
		{"1000", "PKR 1,000.00"},
		{"1250000", "PKR 1,250,000.00"},
		{"267000.5", "PKR 267,000.50"},
		{"-4500", "PKR -4,500.00"},
		{"0.004", "PKR 0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := FormatPKR(decimal.RequireFromString(tt.in)); got != tt.want {
				t.Fatalf("FormatPKR(%s) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"payment_amount" validate:"gt=0"`
	Method string          `json:"payment_method" validate:"required,max=50"`
	Lines  []lineRequest   `json:"lines" validate:"dive"`
}

type lineRequest struct {
	Seats int `json:"seat_count" validate:"gt=0"`
}

func TestValidateStructUsesJSONNames(t *testing.T) {
	err := ValidateStruct(paymentRequest{
		Amount: decimal.Zero,
		Lines:  []lineRequest{{Seats: 1}, {Seats: 0}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInvalidInput))

	var ve *ledger.ValidationError
	require.True(t, errors.As(err, &ve))
	fields := map[string]string{}
	for _, f := range ve.Fields {
		fields[f.Field] = f.Error
	}
	assert.Contains(t, fields, "payment_amount")
	assert.Contains(t, fields, "payment_method")
	assert.Contains(t, fields, "lines[1].seat_count")

	ok := paymentRequest{Amount: decimal.NewFromInt(10), Method: "cash"}
	assert.NoError(t, ValidateStruct(ok))
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NoError(t, CheckPassword("s3cret-pass", hash))
	assert.Error(t, CheckPassword("wrong", hash))
}

func TestRoles(t *testing.T) {
	for _, r := range []string{"owner", "accountant", "client"} {
		assert.True(t, IsValidRole(r), r)
	}
	assert.False(t, IsValidRole("admin"))

	s, err := GenerateRandomString(11)
	require.NoError(t, err)
	assert.Len(t, s, 11)
}
