package ledger

import (
	"fmt"
	"strings"
	"unicode"

	"stepschool_go/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const voucherNumberAttempts = 5

// clientCode turns "Beacon House School" into "BHS". Single-word names use their
// first three letters. The result is at most four upper-case letters.
func clientCode(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var b strings.Builder
	if len(words) > 1 {
		for _, w := range words {
			r := []rune(w)
			b.WriteRune(unicode.ToUpper(r[0]))
			if b.Len() >= 4 {
				break
			}
		}
	} else if len(words) == 1 {
		for i, r := range []rune(words[0]) {
			if i == 3 {
				break
			}
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	code := b.String()
	if code == "" {
		return "CL"
	}
	return code
}

// nextVoucherNumber builds PREFIX-CODE-YYMM-XXXXXX and makes sure it is not taken.
// The unique index on voucher_number still guards against a concurrent twin.
func (s *Service) nextVoucherNumber(tx *gorm.DB, client models.Client) (string, error) {
	code := clientCode(client.Name)
	period := s.now().Format("0601")
	for i := 0; i < voucherNumberAttempts; i++ {
		suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
		number := fmt.Sprintf("%s-%s-%s-%s", s.voucherPrefix, code, period, suffix)
		var taken int64
		if err := tx.Model(&models.Voucher{}).Where("voucher_number = ?", number).Count(&taken).Error; err != nil {
			return "", fmt.Errorf("check voucher number: %w", err)
		}
		if taken == 0 {
			return number, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique voucher number after %d attempts", voucherNumberAttempts)
}
