package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcclellann/fleetfinance/pkg/models"
)

var (
	ErrNotFound          = errors.New("contract not found")
	ErrDuplicateContract = errors.New("contract number already exists")
)

// Storage defines the interface for database operations on contracts. A
// contract is stored together with its vehicles and rate history, and every
// write replaces all three atomically.
type Storage interface {
	CreateContract(contract *models.Contract) error
	GetContract(id uuid.UUID) (*models.Contract, error)
	GetContractByNumber(number string) (*models.Contract, error)
	// FindContractByRegistration returns the contract carrying the vehicle,
	// preferring one on which the vehicle is still active.
	FindContractByRegistration(registration string) (*models.Contract, error)
	UpdateContract(contract *models.Contract) error
	DeleteContract(id uuid.UUID) error
	GetAllContracts() ([]*models.Contract, error)

	Close() error
}

// Open returns the Storage for a configured driver name.
func Open(driver, dataSourceName string) (Storage, error) {
	switch driver {
	case "sqlite3", "sqlite":
		s, err := NewSQLiteStore(dataSourceName)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := NewPostgresStore(dataSourceName)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
