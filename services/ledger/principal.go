package ledger

import (
	"stepschool_go/models"

	"gorm.io/gorm"
)

// Principal is the authenticated caller. Every operation receives it explicitly
// and uses it only to scope queries.
type Principal struct {
	UserID   uint
	Role     string
	CampusID *uint
	ClientID *uint
}

// System is used by seeders and scheduled jobs.
var System = Principal{Role: models.RoleOwner}

func (p Principal) IsOwner() bool      { return p.Role == models.RoleOwner }
func (p Principal) IsAccountant() bool { return p.Role == models.RoleAccountant }
func (p Principal) IsClient() bool     { return p.Role == models.RoleClient }

// CanWrite reports whether the principal may mutate ledger data.
func (p Principal) CanWrite() bool {
	return p.IsOwner() || p.IsAccountant()
}

func (p Principal) requireWrite(action string) error {
	if !p.CanWrite() {
		return &ForbiddenError{Action: action}
	}
	return nil
}

// idOrZero makes an unbound accountant/client match nothing.
func idOrZero(id *uint) uint {
	if id == nil {
		return 0
	}
	return *id
}

// scopeClients limits a clients query to the principal's rows.
func (p Principal) scopeClients(q *gorm.DB) *gorm.DB {
	switch p.Role {
	case models.RoleOwner:
		return q
	case models.RoleAccountant:
		return q.Where("clients.campus_id = ?", idOrZero(p.CampusID))
	case models.RoleClient:
		return q.Where("clients.id = ?", idOrZero(p.ClientID))
	}
	return q.Where("1 = 0")
}

// scopeVouchers limits a vouchers query to the principal's rows.
func (p Principal) scopeVouchers(q *gorm.DB) *gorm.DB {
	switch p.Role {
	case models.RoleOwner:
		return q
	case models.RoleAccountant:
		return q.Where("vouchers.campus_id = ?", idOrZero(p.CampusID))
	case models.RoleClient:
		return q.Where("vouchers.client_id = ?", idOrZero(p.ClientID))
	}
	return q.Where("1 = 0")
}

// scopeCampuses limits a campuses query to the principal's rows.
func (p Principal) scopeCampuses(q *gorm.DB) *gorm.DB {
	switch p.Role {
	case models.RoleOwner:
		return q
	case models.RoleAccountant:
		return q.Where("campuses.id = ?", idOrZero(p.CampusID))
	case models.RoleClient:
		return q.Where("campuses.id IN (?)", q.Session(&gorm.Session{NewDB: true}).
			Model(&models.Client{}).Select("campus_id").Where("id = ?", idOrZero(p.ClientID)))
	}
	return q.Where("1 = 0")
}

// canSeeCampus checks a single campus id against the principal.
func (p Principal) canSeeCampus(campusID uint) bool {
	switch p.Role {
	case models.RoleOwner:
		return true
	case models.RoleAccountant:
		return idOrZero(p.CampusID) == campusID
	}
	return false
}
