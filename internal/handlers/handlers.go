// Package handlers exposes the billing ledger over HTTP.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/rschio/milkbill/internal/auth"
	"github.com/rschio/milkbill/internal/core/ledger"
	"github.com/rschio/milkbill/internal/metrics"
	"github.com/rschio/milkbill/internal/web"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config contains the dependencies of the API.
type Config struct {
	Log     *slog.Logger
	Ledger  *ledger.Core
	Auth    *auth.Auth
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	// Ready reports whether the dependencies of the service are reachable.
	Ready func(ctx context.Context) error
	// CORSOrigin is the origin allowed to call the API from a browser. Empty
	// disables CORS headers.
	CORSOrigin string
}

// APIMux constructs an http.Handler with all application routes defined.
func APIMux(cfg Config) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("")
	}

	s := &Server{
		log:     cfg.Log,
		ledger:  cfg.Ledger,
		auth:    cfg.Auth,
		metrics: cfg.Metrics,
		ready:   cfg.Ready,
	}

	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, middlewareWeb(cfg.Tracer, s.logging(s.measure(s.panics(h)))))
	}
	protected := func(pattern string, h http.HandlerFunc) {
		handle(pattern, s.authenticate(h))
	}

	handle("POST /login", s.Login)

	protected("POST /customers", s.CreateCustomer)
	protected("GET /customers", s.QueryCustomers)
	protected("GET /customers/bills", s.ListBillsWithStatus)
	protected("GET /customers/{id}", s.QueryCustomerByID)
	protected("GET /customers/{id}/bills", s.QueryCustomerBills)

	protected("POST /bills", s.CreateBill)
	protected("GET /bills/{id}", s.BillStatus)
	protected("GET /bills/{id}/payments", s.QueryPayments)

	protected("POST /payments", s.RecordPayment)

	handle("GET /public/bills/{customerId}/{month}/{year}", s.PublicBill)
	handle("GET /public/bills/{customerId}/{month}/{year}/payment-status", s.PublicPaymentStatus)

	handle("GET /liveness", s.Liveness)
	handle("GET /readiness", s.Readiness)
	mux.Handle("GET /metrics", cfg.Metrics.Handler())

	return cors(cfg.CORSOrigin, mux)
}

// Server holds the handlers of the API.
type Server struct {
	log     *slog.Logger
	ledger  *ledger.Core
	auth    *auth.Auth
	metrics *metrics.Metrics
	ready   func(ctx context.Context) error
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s, http.StatusOK,
		func(ctx context.Context, r *http.Request, req LoginReq) (LoginResp, error) {
			tkn, err := s.auth.Login(req.Username, req.Password)
			if err != nil {
				return LoginResp{}, err
			}
			return LoginResp{Token: tkn}, nil
		},
	)
}

func (s *Server) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s, http.StatusCreated,
		func(ctx context.Context, r *http.Request, req CustomerReq) (CustomerResp, error) {
			nc := ledger.NewCustomer{
				Name:    req.Name,
				Phone:   req.Phone,
				Address: req.Address,
			}

			c, err := s.ledger.CreateCustomer(ctx, nc)
			if err != nil {
				return CustomerResp{}, err
			}

			return toCustomerResp(c), nil
		},
	)
}

func (s *Server) QueryCustomers(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s, http.StatusOK,
		func(ctx context.Context, r *http.Request, _ struct{}) ([]CustomerResp, error) {
			cs, err := s.ledger.QueryCustomers(ctx)
			if err != nil {
				return nil, err
			}
			return toCustomersResp(cs), nil
		},
	)
}

func (s *Server) QueryCustomerByID(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s, http.StatusOK,
		func(ctx context.Context, r *http.Request, _ struct{}) (CustomerResp, error) {
			id, err := pathID(r, "id", "customer not found")
			if err != nil {
				return CustomerResp{}, err
			}

			c, err := s.ledger.QueryCustomerByID(ctx, id)
			if err != nil {
				return CustomerResp{}, err
			}
			return toCustomerResp(c), nil
		},
	)
}

func (s *Server) QueryCustomerBills(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s, http.StatusOK,
		func(ctx context.Context, r *http.Request, _ struct{}) ([]BillSummaryResp, error) {
			id, err := pathID(r, "id", "customer not found")
			if err != nil {
				return nil, err
			}

			bs, err := s.ledger.QueryCustomerBills(ctx, id)
			if err != nil {
				return nil, err
			}
			return toBillSummariesResp(bs), nil
		},
	)
}

func (s *Server) CreateBill(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s, http.StatusCreated,
		func(ctx context.Context, r *http.Request, req BillReq) (BillResp, error) {
			customerID, err := uuid.Parse(req.CustomerID)
			if err != nil {
				return BillResp{}, &ledger.Error{Kind: ledger.ErrValidation, Msg: "customerId must be a valid id"}
			}

			nb := ledger.NewBill{
				CustomerID:  customerID,
				Month:       string(req.Month),
				Year:        string(req.Year),
				TotalMilk:   req.TotalMilk,
				TotalAmount: ledger.MoneyFromFloat(req.TotalAmount),
			}

			b, err := s.ledger.CreateBill(ctx, nb)
			if err != nil {
				if errors.Is(err, ledger.ErrConflict) {
					s.metrics.BillConflicts.Inc()
				}
				return BillResp{}, err
			}
			s.metrics.BillsCreated.Inc()

			claims, _ := auth.GetClaims(ctx)
			s.log.InfoContext(ctx, "bill created", "bill_id", b.ID, "customer_id", b.CustomerID, "user", claims.Username)

			return toBillResp(b), nil
		},
	)
}

func (s *Server) BillStatus(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s, http.StatusOK,
		func(ctx context.Context, r *http.Request, _ struct{}) (PaymentStatusResp, error) {
			id, err := pathID(r, "id", "bill not found")
			if err != nil {
				return PaymentStatusResp{}, err
			}

			ps, err := s.ledger.BillStatus(ctx, id)
			if err != nil {
				return PaymentStatusResp{}, err
			}
			return toPaymentStatusResp(ps), nil
		},
	)
}

func (s *Server) QueryPayments(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s, http.StatusOK,
		func(ctx context.Context, r *http.Request, _ struct{}) ([]PaymentResp, error) {
			id, err := pathID(r, "id", "bill not found")
			if err != nil {
				return nil, err
			}

			ps, err := s.ledger.QueryPayments(ctx, id)
			if err != nil {
				return nil, err
			}
			return toPaymentsResp(ps), nil
		},
	)
}

func (s *Server) RecordPayment(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s, http.StatusCreated,
		func(ctx context.Context, r *http.Request, req PaymentReq) (PaymentResp, error) {
			billID, err := uuid.Parse(req.BillID)
			if err != nil {
				return PaymentResp{}, &ledger.Error{Kind: ledger.ErrValidation, Msg: "billId must be a valid id"}
			}

			np := ledger.NewPayment{
				BillID: billID,
				Amount: ledger.MoneyFromFloat(req.Amount),
			}

			p, err := s.ledger.RecordPayment(ctx, np)
			if err != nil {
				return PaymentResp{}, err
			}
			s.metrics.PaymentsRecorded.Inc()
			s.metrics.PaymentAmount.Observe(p.Amount.Float())

			claims, _ := auth.GetClaims(ctx)
			s.log.InfoContext(ctx, "payment recorded", "payment_id", p.ID, "bill_id", p.BillID, "user", claims.Username)

			return toPaymentResp(p), nil
		},
	)
}

func (s *Server) ListBillsWithStatus(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s, http.StatusOK,
		func(ctx context.Context, r *http.Request, _ struct{}) ([]BillSummaryResp, error) {
			bs, err := s.ledger.ListBillsWithStatus(ctx)
			if err != nil {
				return nil, err
			}
			return toBillSummariesResp(bs), nil
		},
	)
}

func (s *Server) PublicBill(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s, http.StatusOK,
		func(ctx context.Context, r *http.Request, _ struct{}) (BillResp, error) {
			customerID, err := pathID(r, "customerId", "bill not found")
			if err != nil {
				return BillResp{}, err
			}

			b, err := s.ledger.QueryBillByPeriod(ctx, customerID, r.PathValue("month"), r.PathValue("year"))
			if err != nil {
				return BillResp{}, err
			}
			return toBillResp(b), nil
		},
	)
}

func (s *Server) PublicPaymentStatus(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s, http.StatusOK,
		func(ctx context.Context, r *http.Request, _ struct{}) (PaymentStatusResp, error) {
			customerID, err := pathID(r, "customerId", "bill not found")
			if err != nil {
				return PaymentStatusResp{}, err
			}

			ps, err := s.ledger.BillStatusByPeriod(ctx, customerID, r.PathValue("month"), r.PathValue("year"))
			if err != nil {
				return PaymentStatusResp{}, err
			}
			return toPaymentStatusResp(ps), nil
		},
	)
}

func (s *Server) Liveness(w http.ResponseWriter, r *http.Request) {
	web.Respond(r.Context(), w, map[string]string{"status": "up"}, http.StatusOK)
}

func (s *Server) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			s.log.ErrorContext(ctx, "readiness failure", "ERROR", err)
			web.RespondError(ctx, w, "not ready", nil, http.StatusServiceUnavailable)
			return
		}
	}
	web.Respond(ctx, w, map[string]string{"status": "ok"}, http.StatusOK)
}

// pathID parses the uuid in the path segment name. A malformed id is
// reported as a not found resource.
func pathID(r *http.Request, name, notFoundMsg string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, &ledger.Error{Kind: ledger.ErrNotFound, Msg: notFoundMsg}
	}
	return id, nil
}

// serveJSON decodes the request body into Req for methods other than GET,
// calls fn and writes its response or error in the API envelope.
func serveJSON[Req any, Resp any](
	w http.ResponseWriter,
	r *http.Request,
	s *Server,
	statusCode int,
	fn func(ctx context.Context, r *http.Request, req Req) (Resp, error),
) {
	ctx := r.Context()

	var req Req
	if r.Method != http.MethodGet {
		if err := web.Decode(w, r, &req); err != nil {
			s.respondError(ctx, w, err)
			return
		}
	}

	resp, err := fn(ctx, r, req)
	if err != nil {
		s.respondError(ctx, w, err)
		return
	}

	if err := web.Respond(ctx, w, resp, statusCode); err != nil {
		s.log.ErrorContext(ctx, "respond", "ERROR", err)
	}
}

func (s *Server) respondError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		status int
		msg    = err.Error()
	)

	switch {
	case errors.Is(err, web.ErrBadRequest), errors.Is(err, ledger.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		status = http.StatusForbidden
	default:
		status = http.StatusInternalServerError
		msg = http.StatusText(status)
	}

	if status == http.StatusInternalServerError {
		s.log.ErrorContext(ctx, "request failed", "ERROR", err)
	} else {
		s.log.InfoContext(ctx, "request rejected", "status", status, "reason", err)
	}

	if err := web.RespondError(ctx, w, msg, nil, status); err != nil {
		s.log.ErrorContext(ctx, "respond", "ERROR", err)
	}
}
