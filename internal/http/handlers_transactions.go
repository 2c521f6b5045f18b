package http

import (
	"context"
	"errors"
	"net/http"

	"ledger/internal/core"
	"ledger/internal/log"
)

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	p, ok := s.periodParam(w, r)
	if !ok {
		return
	}
	txs, err := s.ledger.ListTransactions(r.Context(), p)
	if err != nil {
		s.writeLedgerError(w, r, log.OpList, err)
		return
	}
	NewJSONResponse().Body(txs).Write(w)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	in, ok := s.transactionInput(w, r)
	if !ok {
		return
	}
	created, err := s.ledger.AddTransaction(r.Context(), in)
	if err != nil {
		s.writeLedgerError(w, r, log.OpCreate, err)
		return
	}
	s.appMetrics.transactionsAdded.Add(1)
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/transactions/"+created.ID).
		Body(created).
		Write(w)
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	in, ok := s.transactionInput(w, r)
	if !ok {
		return
	}
	updated, err := s.ledger.UpdateTransaction(r.Context(), r.PathValue("id"), in)
	if err != nil {
		s.writeLedgerError(w, r, log.OpUpdate, err)
		return
	}
	s.appMetrics.transactionsEdited.Add(1)
	NewJSONResponse().Body(updated).Write(w)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteTransaction(r.Context(), r.PathValue("id")); err != nil {
		s.writeLedgerError(w, r, log.OpDelete, err)
		return
	}
	s.appMetrics.transactionsGone.Add(1)
	NewJSONResponse().Message("Transaction deleted").Write(w)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	p, ok := s.periodParam(w, r)
	if !ok {
		return
	}
	summary, err := s.ledger.ComputeSummary(r.Context(), p)
	if err != nil {
		s.writeLedgerError(w, r, log.OpSummary, err)
		return
	}
	NewJSONResponse().Body(summary).Write(w)
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	p, ok := s.periodParam(w, r)
	if !ok {
		return
	}
	breakdown, err := s.ledger.ComputeBreakdown(r.Context(), p)
	if err != nil {
		s.writeLedgerError(w, r, log.OpSummary, err)
		return
	}
	NewJSONResponse().Body(breakdown).Write(w)
}

// periodParam writes a 400 and returns false when month is malformed.
func (s *Server) periodParam(w http.ResponseWriter, r *http.Request) (core.Period, bool) {
	p, err := ParsePeriodParam(r.URL.Query())
	if err != nil {
		body := errorBody{Error: err.Error(), Field: "month"}
		if ve, ok := core.AsValidationError(err); ok {
			body.Reason = ve.Reason
		}
		NewJSONResponse().Status(http.StatusBadRequest).Body(body).Write(w)
		return core.Period{}, false
	}
	return p, true
}

// transactionInput writes the error response and returns false when the
// body cannot be turned into an Input.
func (s *Server) transactionInput(w http.ResponseWriter, r *http.Request) (core.Input, bool) {
	in, err := ParseTransactionInput(r)
	if err == nil {
		return in, true
	}
	if errors.Is(err, errMalformedBody) {
		BadRequestError(err.Error()).Write(w)
		return core.Input{}, false
	}
	s.writeLedgerError(w, r, log.OpCreate, err)
	return core.Input{}, false
}

// writeLedgerError maps the ledger error taxonomy onto HTTP statuses.
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	logger := log.FromContext(ctx).WithComponent(log.ComponentHTTP)

	if ve, ok := core.AsValidationError(err); ok {
		logger.InfoContext(ctx, "Rejected invalid input",
			log.FieldOperation, op, "field", ve.Field, "reason", ve.Reason)
		ValidationErrorResponse(ve.Field, ve.Reason, ve.Error()).Write(w)
		return
	}

	switch {
	case core.IsNotFound(err):
		NotFoundError(err.Error()).Write(w)
	case core.IsStoreError(err):
		// Already logged by the ledger with its cause.
		ServiceUnavailableError("transaction store unavailable").Write(w)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.WarnContext(ctx, "Request interrupted", log.FieldOperation, op, log.FieldError, err)
		ServiceUnavailableError("request interrupted").Write(w)
	default:
		s.events.LogError(ctx, "Unexpected ledger error", err, log.ErrorTypeInternal, op, nil)
		InternalServerError("internal error").Write(w)
	}
}
