package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stepschool_go/models"

	"gorm.io/gorm"
)

// CampusInput creates a campus.
type CampusInput struct {
	Name     string
	City     string
	Location string
}

// CampusView is a campus with the number of clients it owns.
type CampusView struct {
	models.Campus
	ClientCount int64 `json:"client_count"`
}

// ListCampuses returns the campuses visible to the principal.
func (s *Service) ListCampuses(ctx context.Context, p Principal) ([]CampusView, error) {
	db := s.db.WithContext(ctx)
	var campuses []models.Campus
	if err := db.Scopes(p.scopeCampuses).Order("campuses.name").Find(&campuses).Error; err != nil {
		return nil, fmt.Errorf("list campuses: %w", err)
	}

	var counts []struct {
		CampusID uint
		N        int64
	}
	if err := db.Model(&models.Client{}).
		Select("campus_id, COUNT(*) AS n").
		Group("campus_id").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count clients per campus: %w", err)
	}
	byCampus := make(map[uint]int64, len(counts))
	for _, c := range counts {
		byCampus[c.CampusID] = c.N
	}

	views := make([]CampusView, 0, len(campuses))
	for _, c := range campuses {
		views = append(views, CampusView{Campus: c, ClientCount: byCampus[c.ID]})
	}
	return views, nil
}

// CreateCampus adds a campus. Only owners create campuses.
func (s *Service) CreateCampus(ctx context.Context, p Principal, in CampusInput) (models.Campus, error) {
	if !p.IsOwner() {
		return models.Campus{}, &ForbiddenError{Action: "create campuses"}
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Campus{}, NewValidationError(ErrInvalidInput, FieldError{Field: "name", Error: "is required"})
	}

	campus := models.Campus{Name: name, City: strings.TrimSpace(in.City), Location: strings.TrimSpace(in.Location)}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Campus{}).Where("LOWER(name) = ?", strings.ToLower(name)).Count(&n).Error; err != nil {
			return fmt.Errorf("check campus name: %w", err)
		}
		if n > 0 {
			return conflict(fmt.Errorf("campus %w", ErrDuplicateName))
		}
		if err := tx.Omit("Clients").Create(&campus).Error; err != nil {
			return fmt.Errorf("create campus: %w", err)
		}
		return nil
	})
	return campus, err
}

// DeleteCampus removes an empty campus. Accountants bound to it are unbound.
func (s *Service) DeleteCampus(ctx context.Context, p Principal, id uint) error {
	if !p.IsOwner() {
		return &ForbiddenError{Action: "delete campuses"}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var campus models.Campus
		err := lockForUpdate(tx).First(&campus, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFound("campus", id)
		}
		if err != nil {
			return fmt.Errorf("load campus %d: %w", id, err)
		}

		var clients int64
		if err := tx.Model(&models.Client{}).Where("campus_id = ?", id).Count(&clients).Error; err != nil {
			return fmt.Errorf("count clients of campus %d: %w", id, err)
		}
		if clients > 0 {
			return conflict(fmt.Errorf("%w (%d)", ErrCampusHasClients, clients))
		}

		if err := tx.Model(&models.User{}).Where("campus_id = ?", id).Update("campus_id", nil).Error; err != nil {
			return fmt.Errorf("unbind users of campus %d: %w", id, err)
		}
		if err := tx.Delete(&models.Campus{}, id).Error; err != nil {
			return fmt.Errorf("delete campus %d: %w", id, err)
		}
		return nil
	})
}
