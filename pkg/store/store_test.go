package store

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/shopspring/decimal"
)

func newTestContract(number string, regs ...string) *models.Contract {
	created := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	c := &models.Contract{
		ID:                    uuid.New(),
		ContractNumber:        number,
		TotalCapital:          decimal.RequireFromString("24000.50"),
		TotalInstalments:      24,
		FirstInstalmentDate:   civil.Date{Year: 2024, Month: time.January, Day: 31},
		InterestType:          models.InterestTypeVariable,
		BaseRate:              decimal.RequireFromString("5.25"),
		Margin:                decimal.RequireFromString("1.75"),
		OriginalVehicleCount:  len(regs),
		ActiveVehiclesCount:   len(regs),
		CurrentMonthlyCapital: decimal.RequireFromString("1000.02"),
		Status:                models.ContractStatusActive,
		CreatedAt:             created,
		UpdatedAt:             created,
	}
	for _, r := range regs {
		c.Vehicles = append(c.Vehicles, models.Vehicle{
			Registration: r,
			Make:         "Ford",
			Model:        "Transit Custom",
			NetPrice:     decimal.RequireFromString("20000"),
			GrossPrice:   decimal.RequireFromString("24000"),
			Status:       models.VehicleStatusActive,
		})
	}
	return c
}

// exerciseStorage runs the same scenario against any backend.
func exerciseStorage(t *testing.T, s Storage, prefix string) {
	contract := newTestContract(prefix+"-001", "AA11AAA", "BB22BBB")
	if err := s.CreateContract(contract); err != nil {
		t.Fatalf("Failed to create contract: %v", err)
	}
	defer s.DeleteContract(contract.ID)

	fetched, err := s.GetContract(contract.ID)
	if err != nil {
		t.Fatalf("Failed to get contract: %v", err)
	}
	if fetched.ContractNumber != contract.ContractNumber {
		t.Errorf("Expected contract number %s, got %s", contract.ContractNumber, fetched.ContractNumber)
	}
	if !fetched.TotalCapital.Equal(contract.TotalCapital) {
		t.Errorf("Expected total capital %s, got %s", contract.TotalCapital, fetched.TotalCapital)
	}
	if !fetched.BaseRate.Equal(contract.BaseRate) || !fetched.Margin.Equal(contract.Margin) {
		t.Errorf("Expected rates %s + %s, got %s + %s", contract.BaseRate, contract.Margin, fetched.BaseRate, fetched.Margin)
	}
	if fetched.FirstInstalmentDate != contract.FirstInstalmentDate {
		t.Errorf("Expected first instalment %s, got %s", contract.FirstInstalmentDate, fetched.FirstInstalmentDate)
	}
	if !fetched.CreatedAt.Equal(contract.CreatedAt) {
		t.Errorf("Expected created at %v, got %v", contract.CreatedAt, fetched.CreatedAt)
	}
	if len(fetched.Vehicles) != 2 || fetched.Vehicles[0].Registration != "AA11AAA" || fetched.Vehicles[1].Registration != "BB22BBB" {
		t.Fatalf("Expected vehicles AA11AAA, BB22BBB in order, got %+v", fetched.Vehicles)
	}
	if !fetched.Vehicles[0].GrossPrice.Equal(decimal.NewFromInt(24000)) {
		t.Errorf("Expected gross price 24000, got %s", fetched.Vehicles[0].GrossPrice)
	}

	byNumber, err := s.GetContractByNumber(" " + prefix + "-001")
	if err != nil {
		t.Fatalf("Failed to get contract by number: %v", err)
	}
	if byNumber.ID != contract.ID {
		t.Errorf("Expected contract %s, got %s", contract.ID, byNumber.ID)
	}

	if err := s.CreateContract(newTestContract(prefix+"-001", "CC33CCC")); !errors.Is(err, ErrDuplicateContract) {
		t.Errorf("Expected ErrDuplicateContract, got %v", err)
	}

	// Settle one vehicle and record a rate change in one update.
	settled := civil.Date{Year: 2024, Month: time.May, Day: 15}
	fetched.Vehicles[0].Status = models.VehicleStatusSettled
	fetched.Vehicles[0].SettledDate = &settled
	fetched.ActiveVehiclesCount = 1
	fetched.RateHistory = append(fetched.RateHistory, models.RateChange{
		Date:             civil.Date{Year: 2024, Month: time.June, Day: 1},
		OldBaseRate:      decimal.RequireFromString("5.25"),
		NewBaseRate:      decimal.RequireFromString("5"),
		OldEffectiveRate: decimal.RequireFromString("7"),
		NewEffectiveRate: decimal.RequireFromString("6.75"),
		RecordedAt:       time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	})
	fetched.BaseRate = decimal.RequireFromString("5")
	fetched.UpdatedAt = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	if err := s.UpdateContract(fetched); err != nil {
		t.Fatalf("Failed to update contract: %v", err)
	}

	updated, err := s.GetContract(contract.ID)
	if err != nil {
		t.Fatalf("Failed to get updated contract: %v", err)
	}
	if updated.Vehicles[0].Status != models.VehicleStatusSettled || updated.Vehicles[0].SettledDate == nil || *updated.Vehicles[0].SettledDate != settled {
		t.Errorf("Expected AA11AAA settled on %s, got %+v", settled, updated.Vehicles[0])
	}
	if updated.Vehicles[1].SettledDate != nil {
		t.Errorf("Expected BB22BBB to have no settled date")
	}
	if len(updated.RateHistory) != 1 || !updated.RateHistory[0].NewEffectiveRate.Equal(decimal.RequireFromString("6.75")) {
		t.Errorf("Expected one rate change to 6.75, got %+v", updated.RateHistory)
	}
	if updated.ActiveVehiclesCount != 1 {
		t.Errorf("Expected 1 active vehicle, got %d", updated.ActiveVehiclesCount)
	}

	// The same registration on a newer contract, still active there.
	refinanced := newTestContract(prefix+"-002", "AA11AAA")
	if err := s.CreateContract(refinanced); err != nil {
		t.Fatalf("Failed to create second contract: %v", err)
	}
	defer s.DeleteContract(refinanced.ID)

	found, err := s.FindContractByRegistration("aa11 aaa")
	if err != nil {
		t.Fatalf("Failed to find contract by registration: %v", err)
	}
	if found.ID != refinanced.ID {
		t.Errorf("Expected the contract with the active vehicle, got %s", found.ContractNumber)
	}
	if _, err := s.FindContractByRegistration("ZZ99ZZZ"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	all, err := s.GetAllContracts()
	if err != nil {
		t.Fatalf("Failed to get all contracts: %v", err)
	}
	var mine []*models.Contract
	for _, c := range all {
		if c.ID == contract.ID || c.ID == refinanced.ID {
			mine = append(mine, c)
		}
	}
	if len(mine) != 2 || mine[0].ContractNumber != prefix+"-001" || len(mine[1].Vehicles) != 1 {
		t.Errorf("Expected both contracts ordered by number with vehicles, got %d", len(mine))
	}

	if err := s.DeleteContract(refinanced.ID); err != nil {
		t.Fatalf("Failed to delete contract: %v", err)
	}
	if _, err := s.GetContract(refinanced.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteContract(refinanced.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
	if err := s.UpdateContract(refinanced); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound updating a deleted contract, got %v", err)
	}
}
