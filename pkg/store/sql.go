package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/fleetfinance/pkg/models"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name              string
	timestampType     string
	numberedParams    bool // $1, $2 instead of ?
	isUniqueViolation func(error) bool
}

// sqlStore implements Storage on database/sql. Decimals and calendar dates
// are stored as TEXT so no precision is lost.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) schema() string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		contract_number TEXT NOT NULL UNIQUE,
		total_capital TEXT NOT NULL,
		total_interest TEXT NOT NULL DEFAULT '0',
		total_instalments INTEGER NOT NULL,
		first_instalment_date TEXT NOT NULL,
		interest_type TEXT NOT NULL,
		base_rate TEXT NOT NULL DEFAULT '0',
		margin TEXT NOT NULL DEFAULT '0',
		original_vehicle_count INTEGER NOT NULL,
		active_vehicles_count INTEGER NOT NULL,
		current_monthly_capital TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		created_at %[1]s NOT NULL,
		updated_at %[1]s NOT NULL
	);
	CREATE TABLE IF NOT EXISTS vehicles (
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		sort_order INTEGER NOT NULL,
		registration TEXT NOT NULL,
		make TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		net_price TEXT NOT NULL DEFAULT '0',
		gross_price TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		settled_date TEXT,
		PRIMARY KEY (contract_id, registration)
	);
	CREATE INDEX IF NOT EXISTS idx_vehicles_registration ON vehicles(registration);
	CREATE TABLE IF NOT EXISTS rate_changes (
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		seq INTEGER NOT NULL,
		effective_date TEXT NOT NULL,
		old_base_rate TEXT NOT NULL,
		new_base_rate TEXT NOT NULL,
		old_effective_rate TEXT NOT NULL,
		new_effective_rate TEXT NOT NULL,
		recorded_at %[1]s NOT NULL,
		PRIMARY KEY (contract_id, seq)
	);
	`, s.dialect.timestampType)
}

func (s *sqlStore) initSchema() error {
	// Both drivers accept a multi-statement Exec when nothing is bound.
	if _, err := s.db.Exec(s.schema()); err != nil {
		return fmt.Errorf("%s schema: %w", s.dialect.name, err)
	}
	return nil
}

// rebind rewrites ? placeholders for backends that number their parameters.
func (s *sqlStore) rebind(query string) string {
	if !s.dialect.numberedParams {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const contractColumns = `id, contract_number, total_capital, total_interest, total_instalments, first_instalment_date, interest_type, base_rate, margin, original_vehicle_count, active_vehicles_count, current_monthly_capital, status, created_at, updated_at`

// CreateContract inserts a contract with its vehicles and rate history.
func (s *sqlStore) CreateContract(c *models.Contract) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(s.rebind(`INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID.String(), c.ContractNumber, c.TotalCapital, c.TotalInterest, c.TotalInstalments,
		c.FirstInstalmentDate.String(), string(c.InterestType), c.BaseRate, c.Margin,
		c.OriginalVehicleCount, c.ActiveVehiclesCount, c.CurrentMonthlyCapital, string(c.Status),
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateContract, c.ContractNumber)
		}
		return fmt.Errorf("failed to create contract: %w", err)
	}
	if err := s.writeChildren(tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateContract replaces the contract row, its vehicles and its rate history
// in one database transaction.
func (s *sqlStore) UpdateContract(c *models.Contract) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(s.rebind(`UPDATE contracts SET contract_number = ?, total_capital = ?, total_interest = ?, total_instalments = ?, first_instalment_date = ?, interest_type = ?, base_rate = ?, margin = ?, original_vehicle_count = ?, active_vehicles_count = ?, current_monthly_capital = ?, status = ?, updated_at = ? WHERE id = ?`),
		c.ContractNumber, c.TotalCapital, c.TotalInterest, c.TotalInstalments,
		c.FirstInstalmentDate.String(), string(c.InterestType), c.BaseRate, c.Margin,
		c.OriginalVehicleCount, c.ActiveVehiclesCount, c.CurrentMonthlyCapital, string(c.Status),
		c.UpdatedAt, c.ID.String(),
	)
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateContract, c.ContractNumber)
		}
		return fmt.Errorf("failed to update contract: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := s.deleteChildren(tx, c.ID); err != nil {
		return err
	}
	if err := s.writeChildren(tx, c); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) writeChildren(tx *sql.Tx, c *models.Contract) error {
	for i, v := range c.Vehicles {
		var settled sql.NullString
		if v.SettledDate != nil {
			settled = sql.NullString{String: v.SettledDate.String(), Valid: true}
		}
		_, err := tx.Exec(s.rebind(`INSERT INTO vehicles (contract_id, sort_order, registration, make, model, net_price, gross_price, status, settled_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			c.ID.String(), i, v.Registration, v.Make, v.Model, v.NetPrice, v.GrossPrice, string(v.Status), settled,
		)
		if err != nil {
			return fmt.Errorf("failed to store vehicle %s: %w", v.Registration, err)
		}
	}
	for i, rc := range c.RateHistory {
		_, err := tx.Exec(s.rebind(`INSERT INTO rate_changes (contract_id, seq, effective_date, old_base_rate, new_base_rate, old_effective_rate, new_effective_rate, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			c.ID.String(), i, rc.Date.String(), rc.OldBaseRate, rc.NewBaseRate, rc.OldEffectiveRate, rc.NewEffectiveRate, rc.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to store rate change of %s: %w", rc.Date, err)
		}
	}
	return nil
}

func (s *sqlStore) deleteChildren(tx *sql.Tx, id uuid.UUID) error {
	if _, err := tx.Exec(s.rebind(`DELETE FROM vehicles WHERE contract_id = ?`), id.String()); err != nil {
		return fmt.Errorf("failed to delete vehicles: %w", err)
	}
	if _, err := tx.Exec(s.rebind(`DELETE FROM rate_changes WHERE contract_id = ?`), id.String()); err != nil {
		return fmt.Errorf("failed to delete rate history: %w", err)
	}
	return nil
}

// DeleteContract removes a contract and everything it owns.
func (s *sqlStore) DeleteContract(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.deleteChildren(tx, id); err != nil {
		return err
	}
	result, err := tx.Exec(s.rebind(`DELETE FROM contracts WHERE id = ?`), id.String())
	if err != nil {
		return fmt.Errorf("failed to delete contract: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// GetContract retrieves a contract by its ID.
func (s *sqlStore) GetContract(id uuid.UUID) (*models.Contract, error) {
	return s.getOne(`SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id.String())
}

// GetContractByNumber retrieves a contract by its business key.
func (s *sqlStore) GetContractByNumber(number string) (*models.Contract, error) {
	return s.getOne(`SELECT `+contractColumns+` FROM contracts WHERE contract_number = ?`, strings.ToUpper(strings.TrimSpace(number)))
}

func (s *sqlStore) FindContractByRegistration(registration string) (*models.Contract, error) {
	var id string
	err := s.db.QueryRow(s.rebind(`SELECT contract_id FROM vehicles WHERE registration = ?
		ORDER BY CASE status WHEN 'active' THEN 0 ELSE 1 END, settled_date DESC LIMIT 1`),
		models.NormalizeRegistration(registration)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find vehicle: %w", err)
	}
	return s.getOne(`SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
}

func (s *sqlStore) getOne(query string, arg any) (*models.Contract, error) {
	rows, err := s.db.Query(s.rebind(query), arg)
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	contracts, err := s.scanContracts(rows)
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, ErrNotFound
	}
	if err := s.loadChildren(contracts); err != nil {
		return nil, err
	}
	return contracts[0], nil
}

// GetAllContracts retrieves every contract ordered by contract number.
func (s *sqlStore) GetAllContracts() ([]*models.Contract, error) {
	rows, err := s.db.Query(`SELECT ` + contractColumns + ` FROM contracts ORDER BY contract_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all contracts: %w", err)
	}
	contracts, err := s.scanContracts(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(contracts); err != nil {
		return nil, err
	}
	return contracts, nil
}

func (s *sqlStore) scanContracts(rows *sql.Rows) ([]*models.Contract, error) {
	defer rows.Close()

	var contracts []*models.Contract
	for rows.Next() {
		var c models.Contract
		var idStr, firstDate, interestType, status string
		var created, updated time.Time
		if err := rows.Scan(&idStr, &c.ContractNumber, &c.TotalCapital, &c.TotalInterest, &c.TotalInstalments,
			&firstDate, &interestType, &c.BaseRate, &c.Margin, &c.OriginalVehicleCount,
			&c.ActiveVehiclesCount, &c.CurrentMonthlyCapital, &status, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan contract row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("contract %s has a malformed id: %w", c.ContractNumber, err)
		}
		first, err := civil.ParseDate(firstDate)
		if err != nil {
			return nil, fmt.Errorf("contract %s has a malformed first instalment date: %w", c.ContractNumber, err)
		}
		c.ID = id
		c.FirstInstalmentDate = first
		c.InterestType = models.InterestType(interestType)
		c.Status = models.ContractStatus(status)
		c.CreatedAt = created
		c.UpdatedAt = updated
		contracts = append(contracts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return contracts, nil
}

// loadChildren fills in vehicles and rate history with one query per table.
func (s *sqlStore) loadChildren(contracts []*models.Contract) error {
	if len(contracts) == 0 {
		return nil
	}
	byID := make(map[string]*models.Contract, len(contracts))
	for _, c := range contracts {
		byID[c.ID.String()] = c
		c.Vehicles = []models.Vehicle{}
	}

	vehicleQuery, args := s.inClause(`SELECT contract_id, registration, make, model, net_price, gross_price, status, settled_date
		FROM vehicles WHERE contract_id IN (%s) ORDER BY contract_id, sort_order`, contracts)
	rows, err := s.db.Query(vehicleQuery, args...)
	if err != nil {
		return fmt.Errorf("failed to load vehicles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v models.Vehicle
		var contractID, status string
		var settled sql.NullString
		if err := rows.Scan(&contractID, &v.Registration, &v.Make, &v.Model, &v.NetPrice, &v.GrossPrice, &status, &settled); err != nil {
			return fmt.Errorf("failed to scan vehicle row: %w", err)
		}
		v.Status = models.VehicleStatus(status)
		if settled.Valid {
			d, err := civil.ParseDate(settled.String)
			if err != nil {
				return fmt.Errorf("vehicle %s has a malformed settled date: %w", v.Registration, err)
			}
			v.SettledDate = &d
		}
		c := byID[contractID]
		c.Vehicles = append(c.Vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error during vehicle rows iteration: %w", err)
	}

	rateQuery, args := s.inClause(`SELECT contract_id, effective_date, old_base_rate, new_base_rate, old_effective_rate, new_effective_rate, recorded_at
		FROM rate_changes WHERE contract_id IN (%s) ORDER BY contract_id, seq`, contracts)
	rateRows, err := s.db.Query(rateQuery, args...)
	if err != nil {
		return fmt.Errorf("failed to load rate history: %w", err)
	}
	defer rateRows.Close()
	for rateRows.Next() {
		var rc models.RateChange
		var contractID, effective string
		if err := rateRows.Scan(&contractID, &effective, &rc.OldBaseRate, &rc.NewBaseRate, &rc.OldEffectiveRate, &rc.NewEffectiveRate, &rc.RecordedAt); err != nil {
			return fmt.Errorf("failed to scan rate change row: %w", err)
		}
		d, err := civil.ParseDate(effective)
		if err != nil {
			return fmt.Errorf("rate change has a malformed date: %w", err)
		}
		rc.Date = d
		c := byID[contractID]
		c.RateHistory = append(c.RateHistory, rc)
	}
	if err := rateRows.Err(); err != nil {
		return fmt.Errorf("error during rate change rows iteration: %w", err)
	}
	return nil
}

func (s *sqlStore) inClause(format string, contracts []*models.Contract) (string, []any) {
	marks := make([]string, len(contracts))
	args := make([]any, len(contracts))
	for i, c := range contracts {
		marks[i] = "?"
		args[i] = c.ID.String()
	}
	return s.rebind(fmt.Sprintf(format, strings.Join(marks, ", "))), args
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}
