package seeders

import (
	"context"
	"fmt"
	"log"
	"time"

	"stepschool_go/models"
	"stepschool_go/services/ledger"
	"stepschool_go/utils"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DefaultPassword is given to every seeded account.
const DefaultPassword = "password123"

// Milestone order used by every seeded plan.
var milestoneTypes = []string{
	models.PaymentTypeAdvance,
	models.PaymentTypeAfterPreRegistration,
	models.PaymentTypeSubmittedExamination,
	models.PaymentTypeRollNumberSlip,
}

type seedClient struct {
	Name       string
	Director   string
	City       string
	Campus     string
	Programs   []ledger.ProgramInput
	PerStudent []int64
	Received   int64
}

var seedCampuses = []ledger.CampusInput{
	{Name: "Model Town", City: "Lahore", Location: "Block C, Model Town"},
	{Name: "Gulberg", City: "Lahore", Location: "Main Boulevard, Gulberg III"},
	{Name: "Clifton", City: "Karachi", Location: "Block 5, Clifton"},
}

var seedClients = []seedClient{
	{
		Name: "Beacon House School", Director: "Sadia Rehman", City: "Lahore", Campus: "Model Town",
		Programs:   []ledger.ProgramInput{{ProgramName: "Matric", SeatCount: 10}, {ProgramName: "O Level", SeatCount: 5}},
		PerStudent: []int64{20000, 10000, 10000, 10000},
		Received:   267000,
	},
	{
		Name: "City School Gulberg", Director: "Imran Qureshi", City: "Lahore", Campus: "Gulberg",
		Programs:   []ledger.ProgramInput{{ProgramName: "Matric", SeatCount: 20}},
		PerStudent: []int64{20000, 10000, 10000, 10000},
		Received:   600000,
	},
	{
		Name: "Roots Millennium", Director: "Hina Baig", City: "Karachi", Campus: "Clifton",
		Programs:   []ledger.ProgramInput{{ProgramName: "Intermediate", SeatCount: 8}},
		PerStudent: []int64{25000, 15000, 10000, 10000},
		Received:   0,
	},
}

// SeedAll runs all seeders. It is a no-op when campuses already exist.
func SeedAll(ctx context.Context, db *gorm.DB, svc *ledger.Service) error {
	log.Println("Starting database seeding...")

	var count int64
	if err := db.WithContext(ctx).Model(&models.Campus{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		log.Println("Campuses already seeded, skipping...")
		return nil
	}

	campuses, err := SeedCampuses(ctx, svc)
	if err != nil {
		return err
	}
	clients, err := SeedClients(ctx, svc, campuses)
	if err != nil {
		return err
	}
	if err := SeedUsers(ctx, db, campuses, clients); err != nil {
		return err
	}

	log.Println("Database seeding completed successfully!")
	return nil
}

// SeedCampuses creates the campuses and returns their ids by name.
func SeedCampuses(ctx context.Context, svc *ledger.Service) (map[string]uint, error) {
	ids := make(map[string]uint, len(seedCampuses))
	for _, in := range seedCampuses {
		campus, err := svc.CreateCampus(ctx, ledger.System, in)
		if err != nil {
			return nil, fmt.Errorf("seed campus %s: %w", in.Name, err)
		}
		ids[campus.Name] = campus.ID
	}
	log.Println("Campuses seeded successfully")
	return ids, nil
}

// SeedClients creates each client with its plan, issues one voucher per milestone and
// spreads the amount already received over the milestones in order.
func SeedClients(ctx context.Context, svc *ledger.Service, campuses map[string]uint) ([]models.Client, error) {
	var out []models.Client
	for _, sc := range seedClients {
		seats := 0
		for _, p := range sc.Programs {
			seats += p.SeatCount
		}
		perStudent := make([]decimal.Decimal, len(sc.PerStudent))
		seatCost := decimal.Zero
		for i, amt := range sc.PerStudent {
			perStudent[i] = decimal.NewFromInt(amt)
			seatCost = seatCost.Add(perStudent[i])
		}
		targets := ledger.MilestoneTotals(perStudent, seats)

		plan := make([]ledger.PlanEntryInput, len(targets))
		for i, amt := range targets {
			plan[i] = ledger.PlanEntryInput{PaymentType: milestoneTypes[i], Amount: amt, DisplayOrder: i + 1}
		}

		detail, err := svc.CreateClient(ctx, ledger.System, ledger.ClientInput{
			Name:         sc.Name,
			DirectorName: sc.Director,
			City:         sc.City,
			CampusID:     campuses[sc.Campus],
			SeatCost:     seatCost,
			Programs:     sc.Programs,
			PaymentPlan:  plan,
		})
		if err != nil {
			return nil, fmt.Errorf("seed client %s: %w", sc.Name, err)
		}

		allocs, leftover := ledger.Allocate(decimal.NewFromInt(sc.Received), targets)
		if leftover.IsPositive() {
			log.Printf("Client %s received %s more than its plan", sc.Name, utils.FormatPKR(leftover))
		}
		if err := issueMilestones(ctx, svc, detail, allocs); err != nil {
			return nil, fmt.Errorf("seed vouchers for %s: %w", sc.Name, err)
		}
		out = append(out, detail.Client)
	}
	log.Println("Clients seeded successfully")
	return out, nil
}

func issueMilestones(ctx context.Context, svc *ledger.Service, detail ledger.ClientDetail, allocs []ledger.Allocation) error {
	for i, entry := range detail.Plan {
		v, err := svc.GenerateFromMilestone(ctx, ledger.System, ledger.MilestoneVoucherInput{
			ClientID:      detail.ID,
			PaymentPlanID: entry.ID,
		})
		if err != nil {
			return err
		}
		if i >= len(allocs) || !allocs[i].Allocated.IsPositive() {
			continue
		}
		if _, err := svc.RecordPayment(ctx, ledger.System, v.ID, ledger.PaymentInput{
			Amount:        allocs[i].Allocated,
			PaymentMethod: "bank_transfer",
			PaymentDate:   time.Now().UTC(),
			Notes:         "Opening balance",
		}); err != nil {
			return err
		}
	}
	return nil
}

// SeedUsers creates the owner, one accountant per campus and one portal login per client.
func SeedUsers(ctx context.Context, db *gorm.DB, campuses map[string]uint, clients []models.Client) error {
	hashedPassword, err := utils.HashPassword(DefaultPassword)
	if err != nil {
		return err
	}

	users := []models.User{{
		Username: "owner",
		Password: hashedPassword,
		Email:    "owner@stepschool.pk",
		Role:     models.RoleOwner,
		Status:   "active",
	}}
	for _, in := range seedCampuses {
		id := campuses[in.Name]
		users = append(users, models.User{
			Username: "accountant." + slug(in.Name),
			Password: hashedPassword,
			Email:    "accounts." + slug(in.Name) + "@stepschool.pk",
			Role:     models.RoleAccountant,
			CampusID: &id,
			Status:   "active",
		})
	}
	for i := range clients {
		cl := clients[i]
		users = append(users, models.User{
			Username: slug(cl.Name),
			Password: hashedPassword,
			Role:     models.RoleClient,
			CampusID: &cl.CampusID,
			ClientID: &cl.ID,
			Status:   "active",
		})
	}

	for i := range users {
		if err := db.WithContext(ctx).Create(&users[i]).Error; err != nil {
			return fmt.Errorf("seed user %s: %w", users[i].Username, err)
		}
	}
	log.Println("Users seeded successfully")
	return nil
}

func slug(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == ' ' && len(out) > 0 && out[len(out)-1] != '_':
			out = append(out, '_')
		}
	}
	return string(out)
}
