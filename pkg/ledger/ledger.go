// Package ledger is the contract register: it keeps contracts in storage and
// runs every engine calculation and lifecycle change against them.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/fleetfinance/pkg/engine"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/mcclellann/fleetfinance/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger handles the business logic for contracts, vehicles and rate changes.
type Ledger struct {
	storage store.Storage
	logger  *zap.Logger
	now     func() time.Time

	// mu serializes read-modify-write sequences against storage.
	mu sync.Mutex
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		storage: s,
		logger:  logger,
		now:     time.Now,
	}
}

// Statement is a contract's statement of account.
type Statement struct {
	Contract     *models.Contract     `json:"contract"`
	Transactions []models.Transaction `json:"transactions"`
	Summary      engine.LedgerSummary `json:"summary"`
}

// ImportResult reports what ImportContracts did with each contract number.
type ImportResult struct {
	Created []string          `json:"created"`
	Skipped []string          `json:"skipped"` // Already in the register
	Failed  map[string]string `json:"failed"`
}

// normalize brings user-entered identifiers into canonical form.
func normalize(c *models.Contract) {
	c.ContractNumber = strings.ToUpper(strings.TrimSpace(c.ContractNumber))
	for i := range c.Vehicles {
		v := &c.Vehicles[i]
		v.Registration = models.NormalizeRegistration(v.Registration)
		v.Make = strings.TrimSpace(v.Make)
		v.Model = strings.TrimSpace(v.Model)
		if v.Status == "" {
			v.Status = models.VehicleStatusActive
		}
	}
	if c.OriginalVehicleCount == 0 {
		c.OriginalVehicleCount = len(c.Vehicles)
	}
	if c.InterestType == models.InterestTypeFixed {
		c.BaseRate = decimal.Zero
		c.Margin = decimal.Zero
	}
}

// CreateContract registers a new contract.
func (l *Ledger) CreateContract(input models.Contract) (*models.Contract, error) {
	c := input.Clone()
	normalize(&c)
	if c.ContractNumber == "" {
		return nil, &engine.ContractDataError{Field: "contractNumber", Reason: "is required"}
	}
	if err := engine.Validate(&c); err != nil {
		return nil, err
	}

	now := l.now()
	c.ID = uuid.New()
	c.RateHistory = nil
	c.CreatedAt = now
	c.UpdatedAt = now
	engine.RefreshDerived(&c)

	if err := l.storage.CreateContract(&c); err != nil {
		return nil, fmt.Errorf("failed to store contract %s: %w", c.ContractNumber, err)
	}
	l.logger.Info("created contract",
		zap.String("op", "ledger.CreateContract"),
		zap.String("contract", c.ContractNumber),
		zap.Int("vehicles", c.OriginalVehicleCount),
		zap.String("interestType", string(c.InterestType)),
	)
	return &c, nil
}

// ImportContracts registers a batch of contracts, skipping contract numbers
// that already exist. One bad contract does not stop the rest.
func (l *Ledger) ImportContracts(contracts []models.Contract) *ImportResult {
	result := &ImportResult{Created: []string{}, Skipped: []string{}, Failed: map[string]string{}}
	for _, c := range contracts {
		number := strings.ToUpper(strings.TrimSpace(c.ContractNumber))
		if _, err := l.storage.GetContractByNumber(number); err == nil {
			result.Skipped = append(result.Skipped, number)
			continue
		}
		if _, err := l.CreateContract(c); err != nil {
			if errors.Is(err, store.ErrDuplicateContract) {
				result.Skipped = append(result.Skipped, number)
				continue
			}
			result.Failed[number] = err.Error()
			continue
		}
		result.Created = append(result.Created, number)
	}
	l.logger.Info("imported contracts",
		zap.String("op", "ledger.ImportContracts"),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)),
	)
	return result
}

// GetContract retrieves a contract by its ID.
func (l *Ledger) GetContract(id uuid.UUID) (*models.Contract, error) {
	return l.storage.GetContract(id)
}

// FindVehicle looks a registration up across the register.
func (l *Ledger) FindVehicle(registration string) (*models.Contract, *models.Vehicle, error) {
	c, err := l.storage.FindContractByRegistration(registration)
	if err != nil {
		return nil, nil, err
	}
	idx := c.FindVehicle(registration)
	if idx < 0 {
		return nil, nil, store.ErrNotFound
	}
	return c, &c.Vehicles[idx], nil
}

// ListContracts retrieves all contracts, optionally only those with the given
// status.
func (l *Ledger) ListContracts(status models.ContractStatus) ([]*models.Contract, error) {
	all, err := l.storage.GetAllContracts()
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}
	out := make([]*models.Contract, 0, len(all))
	for _, c := range all {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out, nil
}

// UpdateContract edits contract terms and vehicle details. The contract
// number, vehicle statuses, settlement dates and rate history never change
// here; settlements and base rate changes have their own operations.
func (l *Ledger) UpdateContract(id uuid.UUID, edit models.Contract) (*models.Contract, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.storage.GetContract(id)
	if err != nil {
		return nil, err
	}
	normalize(&edit)

	c := existing.Clone()
	c.TotalCapital = edit.TotalCapital
	c.TotalInterest = edit.TotalInterest
	c.TotalInstalments = edit.TotalInstalments
	c.FirstInstalmentDate = edit.FirstInstalmentDate
	c.InterestType = edit.InterestType
	c.Margin = edit.Margin
	if len(c.RateHistory) > 0 {
		if !edit.BaseRate.Equal(c.BaseRate) {
			return nil, &engine.RateChangeError{Reason: "the base rate of a contract with rate history changes only through a rate change"}
		}
		if edit.InterestType != models.InterestTypeVariable {
			return nil, &engine.RateChangeError{Reason: "a contract with rate history must stay variable"}
		}
	}
	c.BaseRate = edit.BaseRate

	for _, v := range edit.Vehicles {
		idx := c.FindVehicle(v.Registration)
		if idx < 0 {
			return nil, &engine.ContractDataError{Field: "vehicles", Reason: "vehicle " + v.Registration + " is not on contract " + c.ContractNumber}
		}
		cur := &c.Vehicles[idx]
		cur.Make = v.Make
		cur.Model = v.Model
		cur.NetPrice = v.NetPrice
		cur.GrossPrice = v.GrossPrice
	}

	if err := engine.Validate(&c); err != nil {
		return nil, err
	}
	engine.RefreshDerived(&c)
	c.UpdatedAt = l.now()

	if err := l.storage.UpdateContract(&c); err != nil {
		return nil, fmt.Errorf("failed to update contract %s: %w", c.ContractNumber, err)
	}
	l.logger.Info("updated contract terms",
		zap.String("op", "ledger.UpdateContract"),
		zap.String("contract", c.ContractNumber),
	)
	return &c, nil
}

// DeleteContract deletes a contract.
func (l *Ledger) DeleteContract(id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.storage.DeleteContract(id); err != nil {
		return err
	}
	l.logger.Info("deleted contract", zap.String("op", "ledger.DeleteContract"), zap.String("id", id.String()))
	return nil
}

// QuoteSettlement prices the early settlement of a vehicle without changing
// anything.
func (l *Ledger) QuoteSettlement(id uuid.UUID, registration string, date civil.Date) (*engine.SettlementQuote, error) {
	c, err := l.storage.GetContract(id)
	if err != nil {
		return nil, err
	}
	return engine.QuoteSettlement(*c, registration, date)
}

// SettleVehicle marks a vehicle settled on date and persists the contract.
func (l *Ledger) SettleVehicle(id uuid.UUID, registration string, date civil.Date) (*models.Contract, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.storage.GetContract(id)
	if err != nil {
		return nil, err
	}
	settled, err := engine.SettleVehicle(*c, registration, date)
	if err != nil {
		return nil, err
	}
	settled.UpdatedAt = l.now()
	if err := l.storage.UpdateContract(&settled); err != nil {
		return nil, fmt.Errorf("failed to store settlement of %s: %w", registration, err)
	}

	l.logger.Info("settled vehicle",
		zap.String("op", "ledger.SettleVehicle"),
		zap.String("contract", settled.ContractNumber),
		zap.String("registration", models.NormalizeRegistration(registration)),
		zap.String("date", date.String()),
		zap.Int("activeVehicles", settled.ActiveVehiclesCount),
	)
	if settled.Status == models.ContractStatusSettled {
		l.logger.Info("contract fully settled",
			zap.String("op", "ledger.SettleVehicle"),
			zap.String("contract", settled.ContractNumber),
		)
	}
	return &settled, nil
}

// ChangeBaseRate records a new base rate on a variable contract.
func (l *Ledger) ChangeBaseRate(id uuid.UUID, newBaseRate decimal.Decimal, effective civil.Date) (*models.Contract, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.storage.GetContract(id)
	if err != nil {
		return nil, err
	}
	now := l.now()
	changed, err := engine.ApplyRateChange(*c, newBaseRate, effective, now)
	if err != nil {
		return nil, err
	}
	changed.UpdatedAt = now
	if err := l.storage.UpdateContract(&changed); err != nil {
		return nil, fmt.Errorf("failed to store rate change: %w", err)
	}

	l.logger.Info("changed base rate",
		zap.String("op", "ledger.ChangeBaseRate"),
		zap.String("contract", changed.ContractNumber),
		zap.String("oldBaseRate", c.BaseRate.String()),
		zap.String("newBaseRate", newBaseRate.String()),
		zap.String("effective", effective.String()),
	)
	return &changed, nil
}

// Schedule returns a contract's instalment schedule.
func (l *Ledger) Schedule(id uuid.UUID) ([]engine.MonthEntry, error) {
	c, err := l.storage.GetContract(id)
	if err != nil {
		return nil, err
	}
	return engine.BuildSchedule(*c)
}

// Statement returns a contract's statement of account.
func (l *Ledger) Statement(id uuid.UUID) (*Statement, error) {
	c, err := l.storage.GetContract(id)
	if err != nil {
		return nil, err
	}
	txns, err := engine.BuildLedger(*c)
	if err != nil {
		return nil, err
	}
	return &Statement{Contract: c, Transactions: txns, Summary: engine.Summarize(txns)}, nil
}

// Metrics returns a contract's position as of asOf.
func (l *Ledger) Metrics(id uuid.UUID, asOf civil.Date) (*engine.ContractMetrics, error) {
	c, err := l.storage.GetContract(id)
	if err != nil {
		return nil, err
	}
	return engine.Metrics(*c, asOf)
}

func (l *Ledger) allContracts() ([]models.Contract, error) {
	all, err := l.storage.GetAllContracts()
	if err != nil {
		return nil, err
	}
	out := make([]models.Contract, len(all))
	for i, c := range all {
		out[i] = *c
	}
	return out, nil
}

// Portfolio aggregates every contract in the register as of asOf.
func (l *Ledger) Portfolio(asOf civil.Date) (*engine.PortfolioSummary, error) {
	contracts, err := l.allContracts()
	if err != nil {
		return nil, err
	}
	return engine.Aggregate(contracts, asOf)
}

// Maturity lists contracts concluding within the next three months.
func (l *Ledger) Maturity(asOf civil.Date) (*engine.MaturityReport, error) {
	contracts, err := l.allContracts()
	if err != nil {
		return nil, err
	}
	return engine.BuildMaturityReport(contracts, asOf)
}

// Calendar lays out the instalments due across the register in one month.
func (l *Ledger) Calendar(year int, month time.Month) (*engine.CalendarMonth, error) {
	contracts, err := l.allContracts()
	if err != nil {
		return nil, err
	}
	return engine.PaymentCalendar(contracts, year, month)
}

// CloseMaturedContracts settles every active contract whose term has elapsed
// by asOf and returns how many it closed. A contract that fails is logged
// and skipped.
func (l *Ledger) CloseMaturedContracts(asOf civil.Date) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	contracts, err := l.storage.GetAllContracts()
	if err != nil {
		return 0, fmt.Errorf("failed to load contracts: %w", err)
	}

	closed := 0
	for _, c := range contracts {
		if c.Status != models.ContractStatusActive {
			continue
		}
		matured, changed, err := engine.MatureContract(*c, asOf)
		if err != nil {
			l.logger.Error("cannot mature contract",
				zap.String("op", "ledger.CloseMaturedContracts"),
				zap.String("contract", c.ContractNumber),
				zap.Error(err),
			)
			continue
		}
		if !changed {
			continue
		}
		matured.UpdatedAt = l.now()
		if err := l.storage.UpdateContract(&matured); err != nil {
			l.logger.Error("failed to store matured contract",
				zap.String("op", "ledger.CloseMaturedContracts"),
				zap.String("contract", c.ContractNumber),
				zap.Error(err),
			)
			continue
		}
		closed++
		l.logger.Info("contract reached conclusion",
			zap.String("op", "ledger.CloseMaturedContracts"),
			zap.String("contract", c.ContractNumber),
		)
	}
	return closed, nil
}
