package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"stepschool_go/config"
	"stepschool_go/database"
	"stepschool_go/database/seeders"
	"stepschool_go/services/ledger"
	"stepschool_go/utils"

	"github.com/shopspring/decimal"
)

func main() {
	preview := flag.Bool("preview", false, "Print the milestone allocation only (no database writes)")
	plan := flag.String("plan", "20000,10000,10000,10000", "Per-student milestone amounts, comma separated")
	students := flag.Int("students", 15, "Number of students")
	pool := flag.String("pool", "267000", "Amount already received")
	flag.Parse()

	if *preview {
		if err := printAllocation(*plan, *students, *pool); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		return
	}

	log.Println("Starting database seeding...")
	config.LoadConfig()
	database.Connect()
	defer database.Close()

	db := database.GetDB()
	svc := ledger.NewService(db, config.AppConfig.VoucherPrefix)
	if err := seeders.SeedAll(context.Background(), db, svc); err != nil {
		log.Fatal("Seeding failed: ", err)
	}
}

func printAllocation(plan string, students int, pool string) error {
	if students <= 0 {
		return fmt.Errorf("-students must be positive")
	}
	received, err := decimal.NewFromString(pool)
	if err != nil {
		return fmt.Errorf("-pool: %w", err)
	}
	var perStudent []decimal.Decimal
	for _, raw := range strings.Split(plan, ",") {
		amt, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("-plan %q: %w", raw, err)
		}
		perStudent = append(perStudent, amt)
	}

	allocs, remaining := ledger.Allocate(received, ledger.MilestoneTotals(perStudent, students))
	fmt.Printf("%-4s %16s %16s %16s  %s\n", "#", "target", "paid", "balance", "status")
	for i, a := range allocs {
		fmt.Printf("%-4d %16s %16s %16s  %s\n", i+1,
			utils.FormatPKR(a.Target), utils.FormatPKR(a.Allocated), utils.FormatPKR(a.BalanceAfter), a.Status)
	}
	fmt.Printf("unallocated: %s\n", utils.FormatPKR(remaining))
	return nil
}
