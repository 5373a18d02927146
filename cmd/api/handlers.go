package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fleetfinance/pkg/csvio"
	"github.com/mcclellann/fleetfinance/pkg/datemath"
	"github.com/mcclellann/fleetfinance/pkg/engine"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/mcclellann/fleetfinance/pkg/store"
	"github.com/mcclellann/fleetfinance/pkg/vehiclelookup"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type vehicleRequest struct {
	Registration string               `json:"registration"`
	Make         string               `json:"make"`
	Model        string               `json:"model"`
	NetPrice     decimal.Decimal      `json:"net_price"`
	GrossPrice   decimal.Decimal      `json:"gross_price"`
	Status       models.VehicleStatus `json:"status"`
	SettledDate  string               `json:"settled_date"`
}

// contractRequest accepts dates as YYYY-MM-DD, DD/MM/YYYY or DD-MM-YYYY.
type contractRequest struct {
	ContractNumber      string              `json:"contract_number"`
	TotalCapital        decimal.Decimal     `json:"total_capital"`
	TotalInterest       decimal.Decimal     `json:"total_interest"`
	TotalInstalments    int                 `json:"total_instalments"`
	FirstInstalmentDate string              `json:"first_instalment_date"`
	InterestType        models.InterestType `json:"interest_type"`
	BaseRate            decimal.Decimal     `json:"base_rate"`
	Margin              decimal.Decimal     `json:"margin"`
	Vehicles            []vehicleRequest    `json:"vehicles"`
}

func (req contractRequest) toContract() (models.Contract, error) {
	first, err := datemath.ParseDate(req.FirstInstalmentDate)
	if err != nil {
		return models.Contract{}, fmt.Errorf("first_instalment_date: %w", err)
	}
	c := models.Contract{
		ContractNumber:      req.ContractNumber,
		TotalCapital:        req.TotalCapital,
		TotalInterest:       req.TotalInterest,
		TotalInstalments:    req.TotalInstalments,
		FirstInstalmentDate: first,
		InterestType:        req.InterestType,
		BaseRate:            req.BaseRate,
		Margin:              req.Margin,
	}
	for _, v := range req.Vehicles {
		vehicle := models.Vehicle{
			Registration: v.Registration,
			Make:         v.Make,
			Model:        v.Model,
			NetPrice:     v.NetPrice,
			GrossPrice:   v.GrossPrice,
			Status:       v.Status,
		}
		if v.SettledDate != "" {
			d, err := datemath.ParseDate(v.SettledDate)
			if err != nil {
				return models.Contract{}, fmt.Errorf("vehicle %s settled_date: %w", v.Registration, err)
			}
			vehicle.SettledDate = &d
		}
		c.Vehicles = append(c.Vehicles, vehicle)
	}
	return c, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps ledger, engine and store errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		dataErr   *engine.ContractDataError
		settleErr *engine.InvalidSettlementError
		rateErr   *engine.RateChangeError
		importErr *csvio.ImportError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrDuplicateContract):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &importErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "import failed", "problems": importErr.Problems})
	case errors.As(err, &dataErr), errors.As(err, &settleErr), errors.As(err, &rateErr):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.logger.Error("request failed",
			zap.String("op", "main.writeError"),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func contractID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid contract ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// dateParam reads a date query parameter, falling back to today.
func (s *Server) dateParam(w http.ResponseWriter, r *http.Request, name string) (civil.Date, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return s.today(), true
	}
	d, err := datemath.ParseDate(raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid %s: %v", name, err), http.StatusBadRequest)
		return civil.Date{}, false
	}
	return d, true
}

func (s *Server) listContractsHandler(w http.ResponseWriter, r *http.Request) {
	status := models.ContractStatus(r.URL.Query().Get("status"))
	contracts, err := s.ledger.ListContracts(status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contracts)
}

func (s *Server) createContractHandler(w http.ResponseWriter, r *http.Request) {
	var req contractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	input, err := req.toContract()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := s.ledger.CreateContract(input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) importContractsHandler(w http.ResponseWriter, r *http.Request) {
	contracts, err := csvio.ReadContracts(r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.ImportContracts(contracts))
}

func (s *Server) getContractHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	c, err := s.ledger.GetContract(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateContractHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	var req contractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	edit, err := req.toContract()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := s.ledger.UpdateContract(id, edit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteContractHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteContract(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	entries, err := s.ledger.Schedule(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) statementHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	statement, err := s.ledger.Statement(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("statement-%s-%s", statement.Contract.ContractNumber, s.today())
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeJSON(w, http.StatusOK, statement)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename="+filename+".csv")
		if err := csvio.WriteStatementCSV(w, statement.Transactions); err != nil {
			s.logger.Error("failed to write statement", zap.String("op", "main.statementHandler"), zap.Error(err))
		}
	case "xlsx":
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", "attachment; filename="+filename+".xlsx")
		if err := csvio.WriteStatementXLSX(w, statement.Contract.ContractNumber, statement.Transactions); err != nil {
			s.logger.Error("failed to write statement", zap.String("op", "main.statementHandler"), zap.Error(err))
		}
	default:
		http.Error(w, "Unsupported format "+format, http.StatusBadRequest)
	}
}

func (s *Server) contractMetricsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	asOf, ok := s.dateParam(w, r, "asOf")
	if !ok {
		return
	}
	m, err := s.ledger.Metrics(id, asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) rateChangeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	var req struct {
		BaseRate      decimal.Decimal `json:"base_rate"`
		EffectiveDate string          `json:"effective_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	effective, err := datemath.ParseDate(req.EffectiveDate)
	if err != nil {
		http.Error(w, "effective_date: "+err.Error(), http.StatusBadRequest)
		return
	}

	c, err := s.ledger.ChangeBaseRate(id, req.BaseRate, effective)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) quoteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	date, ok := s.dateParam(w, r, "date")
	if !ok {
		return
	}
	q, err := s.ledger.QuoteSettlement(id, mux.Vars(r)["registration"], date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) settleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contractID(w, r)
	if !ok {
		return
	}
	var req struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	date, err := datemath.ParseDate(req.Date)
	if err != nil {
		http.Error(w, "date: "+err.Error(), http.StatusBadRequest)
		return
	}

	c, err := s.ledger.SettleVehicle(id, mux.Vars(r)["registration"], date)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) findVehicleHandler(w http.ResponseWriter, r *http.Request) {
	c, v, err := s.ledger.FindVehicle(mux.Vars(r)["registration"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contract": c, "vehicle": v})
}

func (s *Server) lookupVehicleHandler(w http.ResponseWriter, r *http.Request) {
	if s.lookup == nil {
		http.Error(w, vehiclelookup.ErrNotConfigured.Error(), http.StatusServiceUnavailable)
		return
	}
	result, err := s.lookup.Lookup(r.Context(), mux.Vars(r)["registration"])
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, vehiclelookup.ErrInvalidRegistration):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, vehiclelookup.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, vehiclelookup.ErrRateLimited):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, vehiclelookup.ErrNotConfigured):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("vehicle lookup failed", zap.String("op", "main.lookupVehicleHandler"), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) portfolioHandler(w http.ResponseWriter, r *http.Request) {
	asOf, ok := s.dateParam(w, r, "asOf")
	if !ok {
		return
	}
	summary, err := s.ledger.Portfolio(asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) maturityHandler(w http.ResponseWriter, r *http.Request) {
	asOf, ok := s.dateParam(w, r, "asOf")
	if !ok {
		return
	}
	report, err := s.ledger.Maturity(asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) calendarHandler(w http.ResponseWriter, r *http.Request) {
	today := s.today()
	year, month := today.Year, today.Month

	if raw := r.URL.Query().Get("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "Invalid year", http.StatusBadRequest)
			return
		}
		year = y
	}
	if raw := r.URL.Query().Get("month"); raw != "" {
		m, err := strconv.Atoi(raw)
		if err != nil || m < 1 || m > 12 {
			http.Error(w, "Invalid month", http.StatusBadRequest)
			return
		}
		month = time.Month(m)
	}

	cal, err := s.ledger.Calendar(year, month)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}
