package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tomaspk/lendbook/pkg/config"
	"github.com/tomaspk/lendbook/pkg/ledger"
	"github.com/tomaspk/lendbook/pkg/logger"
	"github.com/tomaspk/lendbook/pkg/models"
	"github.com/tomaspk/lendbook/pkg/store"
)

// Server exposes the ledger engine over JSON HTTP.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage
	log     *zap.Logger
}

func NewServer(s store.Storage, l *ledger.Ledger, log *zap.Logger) *Server {
	return &Server{ledger: l, storage: s, log: log}
}

type response struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (s *Server) respond(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{Message: message, Data: data})
}

// respondErr maps sentinel errors to status codes. Internal detail is logged,
// never returned to the client.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrLoanNotFound),
		errors.Is(err, models.ErrPaymentNotFound),
		errors.Is(err, models.ErrCustomerNotFound):
		s.respond(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrCustomerResolution),
		errors.Is(err, models.ErrCustomerNameEmpty),
		errors.Is(err, models.ErrInvalidLoanType),
		errors.Is(err, models.ErrInvalidTenure),
		errors.Is(err, models.ErrInvalidPrincipal),
		errors.Is(err, models.ErrInvalidCustomer),
		errors.Is(err, models.ErrInvalidMethod):
		s.respond(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, models.ErrConcurrencyConflict):
		s.respond(w, http.StatusConflict, err.Error(), nil)
	default:
		s.log.Error("request failed", zap.Error(err))
		s.respond(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// --- Customer handlers ---

func (s *Server) createCustomerHandler(w http.ResponseWriter, r *http.Request) {
	var c models.Customer
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		s.respond(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := c.Validate(); err != nil {
		s.respondErr(w, err)
		return
	}
	now := time.Now()
	c.IsActive = true
	c.CreatedAt = now
	c.UpdatedAt = now
	if _, err := s.storage.CreateCustomer(&c); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusCreated, "customer created", c)
}

func (s *Server) listCustomersHandler(w http.ResponseWriter, r *http.Request) {
	customers, err := s.storage.ListCustomers()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "ok", customers)
}

func (s *Server) getCustomerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respond(w, http.StatusBadRequest, "invalid customer id", nil)
		return
	}
	c, err := s.storage.GetCustomer(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "ok", c)
}

func (s *Server) updateCustomerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respond(w, http.StatusBadRequest, "invalid customer id", nil)
		return
	}
	existing, err := s.storage.GetCustomer(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	var c models.Customer
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		s.respond(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	c.ID = id
	c.IsActive = existing.IsActive
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now()
	if err := c.Validate(); err != nil {
		s.respondErr(w, err)
		return
	}
	if err := s.storage.UpdateCustomer(&c); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "customer updated", c)
}

func (s *Server) deleteCustomerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respond(w, http.StatusBadRequest, "invalid customer id", nil)
		return
	}
	if err := s.storage.SoftDeleteCustomer(id, time.Now()); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "customer deleted", nil)
}

// --- Loan handlers ---

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var in ledger.CreateLoanInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respond(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	loan, err := s.ledger.CreateLoan(in)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusCreated, "loan created", loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	f := store.LoanFilter{Search: r.URL.Query().Get("search")}
	if v := r.URL.Query().Get("status"); v != "" {
		status := models.LoanStatus(v)
		f.Status = &status
	}
	if v := r.URL.Query().Get("customer_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respond(w, http.StatusBadRequest, "invalid customer_id", nil)
			return
		}
		f.CustomerID = &id
	}
	loans, err := s.ledger.Loans(f)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "ok", loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respond(w, http.StatusBadRequest, "invalid loan id", nil)
		return
	}
	loan, err := s.ledger.GetLoan(id)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "ok", loan)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respond(w, http.StatusBadRequest, "invalid loan id", nil)
		return
	}
	hard := r.URL.Query().Get("hard") == "true"
	if err := s.ledger.DeleteLoan(id, hard); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "loan deleted", nil)
}

// --- Payment handlers ---

func (s *Server) applyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		s.respond(w, http.StatusBadRequest, "invalid loan id", nil)
		return
	}
	var in ledger.ApplyPaymentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respond(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	in.LoanID = loanID
	p, err := s.ledger.ApplyPayment(in)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusCreated, "payment recorded", p)
}

func (s *Server) loanPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		s.respond(w, http.StatusBadRequest, "invalid loan id", nil)
		return
	}
	payments, err := s.ledger.PaymentsForLoan(loanID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "ok", payments)
}

func (s *Server) editPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respond(w, http.StatusBadRequest, "invalid payment id", nil)
		return
	}
	var in ledger.EditPaymentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respond(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	p, err := s.ledger.EditPayment(id, in)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "payment updated", p)
}

func (s *Server) deletePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respond(w, http.StatusBadRequest, "invalid payment id", nil)
		return
	}
	hard := r.URL.Query().Get("hard") == "true"
	if err := s.ledger.DeletePayment(id, hard); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "payment deleted", nil)
}

func (s *Server) paymentsByRangeHandler(w http.ResponseWriter, r *http.Request) {
	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		s.respond(w, http.StatusBadRequest, "invalid from date, want YYYY-MM-DD", nil)
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		s.respond(w, http.StatusBadRequest, "invalid to date, want YYYY-MM-DD", nil)
		return
	}
	payments, err := s.ledger.PaymentsByDateRange(from, to.AddDate(0, 0, 1))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "ok", payments)
}

// --- Dashboard and sweep ---

func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.DashboardStats()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "ok", stats)
}

func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	changed, err := s.ledger.RunOverdueSweep()
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respond(w, http.StatusOK, "sweep complete", map[string]int{"changed": changed})
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/customers", s.listCustomersHandler).Methods("GET")
	router.HandleFunc("/customers", s.createCustomerHandler).Methods("POST")
	router.HandleFunc("/customers/{id}", s.getCustomerHandler).Methods("GET")
	router.HandleFunc("/customers/{id}", s.updateCustomerHandler).Methods("PUT")
	router.HandleFunc("/customers/{id}", s.deleteCustomerHandler).Methods("DELETE")

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/payments", s.loanPaymentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.applyPaymentHandler).Methods("POST")

	router.HandleFunc("/payments", s.paymentsByRangeHandler).Methods("GET")
	router.HandleFunc("/payments/{id}", s.editPaymentHandler).Methods("PUT")
	router.HandleFunc("/payments/{id}", s.deletePaymentHandler).Methods("DELETE")

	router.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")
	router.HandleFunc("/sweep", s.sweepHandler).Methods("POST")

	return router
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync()

	sqliteStore, err := store.NewSQLiteStore(cfg.DB.Path)
	if err != nil {
		log.Fatal("failed to initialize store", zap.Error(err))
	}
	defer sqliteStore.Close()

	eng := ledger.New(sqliteStore,
		ledger.WithLogger(log),
		ledger.WithAudit(ledger.NewStorageAudit(sqliteStore)),
		ledger.WithCacheTTL(cfg.Cache.TTL),
		ledger.WithRefreshDebounce(cfg.Cache.RefreshDebounce),
	)
	defer eng.Close()

	server := NewServer(sqliteStore, eng, log)

	log.Info("server starting", zap.String("addr", cfg.HTTP.Addr), zap.String("db", cfg.DB.Path))
	if err := http.ListenAndServe(cfg.HTTP.Addr, server.routes()); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
