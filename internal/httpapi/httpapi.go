// Package httpapi wires the routes described in spec.md §5 and the
// supplemental read/write operations added in SPEC_FULL.md onto gorilla/mux,
// following the teacher's handlers_silver.go response-helper pattern: every
// handler ends by calling respondJSON or respondError, never writing to the
// ResponseWriter directly.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/colinzhu/limit-monitoring-sub000/internal/approval"
	"github.com/colinzhu/limit-monitoring-sub000/internal/ingest"
	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
	"github.com/colinzhu/limit-monitoring-sub000/internal/rulecache"
	"github.com/colinzhu/limit-monitoring-sub000/internal/status"
	"github.com/colinzhu/limit-monitoring-sub000/internal/store"
)

type Server struct {
	pipeline    *ingest.Pipeline
	settlements *store.SettlementStore
	groups      *store.GroupStore
	ledger      *approval.Ledger
	rules       *rulecache.Cache
	limits      status.LimitProvider
	db          *store.DB
	logger      *zap.Logger
}

func NewServer(
	pipeline *ingest.Pipeline,
	settlements *store.SettlementStore,
	groups *store.GroupStore,
	ledger *approval.Ledger,
	rules *rulecache.Cache,
	limits status.LimitProvider,
	db *store.DB,
	logger *zap.Logger,
) *Server {
	return &Server{
		pipeline:    pipeline,
		settlements: settlements,
		groups:      groups,
		ledger:      ledger,
		rules:       rules,
		limits:      limits,
		db:          db,
		logger:      logger,
	}
}

// Router builds the full mux.Router for this service.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/settlements", s.handleSubmitSettlement).Methods(http.MethodPost)
	r.HandleFunc("/api/settlements/{settlementId}/{pts}/{processingEntity}/status", s.handleSettlementStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/settlements/{settlementId}/{pts}/{processingEntity}/versions/{version}/activities", s.handleRecordActivity).Methods(http.MethodPost)
	r.HandleFunc("/api/groups/{pts}/{processingEntity}/{counterpartyId}/{valueDate}", s.handleGroupSubtotal).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// settlementRequestBody mirrors ingest.Request as untyped wire JSON; the
// ingest package owns every parsing/validation rule so this struct is a
// pure transport shape.
type settlementRequestBody struct {
	SettlementID      string `json:"settlement_id"`
	SettlementVersion int64  `json:"settlement_version"`
	PTS               string `json:"pts"`
	ProcessingEntity  string `json:"processing_entity"`
	CounterpartyID    string `json:"counterparty_id"`
	ValueDate         string `json:"value_date"`
	Currency          string `json:"currency"`
	Amount            string `json:"amount"`
	BusinessStatus    string `json:"business_status"`
	Direction         string `json:"direction"`
	SettlementType    string `json:"settlement_type"`
}

func (s *Server) handleSubmitSettlement(w http.ResponseWriter, r *http.Request) {
	var body settlementRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, model.NewValidationError(model.FieldError{Field: "body", Message: "malformed JSON"}))
		return
	}

	result, err := s.pipeline.Process(r.Context(), ingest.Request{
		SettlementID:      body.SettlementID,
		SettlementVersion: body.SettlementVersion,
		PTS:               body.PTS,
		ProcessingEntity:  body.ProcessingEntity,
		CounterpartyID:    body.CounterpartyID,
		ValueDate:         body.ValueDate,
		Currency:          body.Currency,
		Amount:            body.Amount,
		BusinessStatus:    body.BusinessStatus,
		Direction:         body.Direction,
		SettlementType:    body.SettlementType,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"status":         "success",
		"message":        "settlement accepted",
		"sequenceId":     result.RefID,
		"affectedGroups": result.AffectedGroups,
	})
}

func (s *Server) handleSettlementStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	settlementID, pts, pe := vars["settlementId"], vars["pts"], vars["processingEntity"]

	st, err := s.settlements.FindLatestVersion(r.Context(), s.db.Conn(), settlementID, pts, pe)
	if err != nil {
		respondError(w, model.NewUpstreamError("find latest settlement version", err))
		return
	}
	if st == nil {
		respondError(w, model.NewValidationError(model.FieldError{Field: "settlementId", Message: "no such settlement"}))
		return
	}

	group, err := s.groups.Find(r.Context(), s.db.Conn(), model.GroupKey{
		PTS: st.PTS, ProcessingEntity: st.ProcessingEntity, CounterpartyID: st.CounterpartyID, ValueDate: st.ValueDate,
	})
	if err != nil {
		respondError(w, model.NewUpstreamError("find group subtotal", err))
		return
	}
	var runningTotal = zeroIfNil(group)

	workflow, err := s.ledger.WorkflowInfo(r.Context(), s.db.Conn(), settlementID, st.SettlementVersion)
	if err != nil {
		respondError(w, model.NewUpstreamError("load workflow info", err))
		return
	}

	limit := s.limits.ExposureLimit(st.CounterpartyID)
	derived := status.Derive(*st, runningTotal, limit, workflow)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"settlement_id":      st.SettlementID,
		"settlement_version": st.SettlementVersion,
		"status":             derived,
		"running_total":      runningTotal,
		"limit":              limit,
	})
}

type activityRequestBody struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Action   string `json:"action"`
	Comment  string `json:"comment"`
}

func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	settlementID, pts, pe := vars["settlementId"], vars["pts"], vars["processingEntity"]
	version, err := strconv.ParseInt(vars["version"], 10, 64)
	if err != nil {
		respondError(w, model.NewValidationError(model.FieldError{Field: "version", Message: "must be an integer"}))
		return
	}

	var body activityRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, model.NewValidationError(model.FieldError{Field: "body", Message: "malformed JSON"}))
		return
	}
	action := model.ActivityAction(body.Action)
	if !action.Valid() {
		respondError(w, model.NewValidationError(model.FieldError{Field: "action", Message: "must be REQUEST_RELEASE or AUTHORISE"}))
		return
	}

	tx, err := s.db.BeginTx(r.Context())
	if err != nil {
		respondError(w, model.NewUpstreamError("begin transaction", err))
		return
	}
	defer func() { _ = tx.Rollback() }()

	st, err := s.settlements.FindLatestVersion(r.Context(), tx, settlementID, pts, pe)
	if err != nil {
		respondError(w, model.NewUpstreamError("find latest settlement version", err))
		return
	}
	if st == nil {
		respondError(w, model.NewValidationError(model.FieldError{Field: "settlementId", Message: "no such settlement"}))
		return
	}

	group, err := s.groups.Find(r.Context(), tx, model.GroupKey{
		PTS: st.PTS, ProcessingEntity: st.ProcessingEntity, CounterpartyID: st.CounterpartyID, ValueDate: st.ValueDate,
	})
	if err != nil {
		respondError(w, model.NewUpstreamError("find group subtotal", err))
		return
	}
	workflow, err := s.ledger.WorkflowInfo(r.Context(), tx, settlementID, version)
	if err != nil {
		respondError(w, model.NewUpstreamError("load workflow info", err))
		return
	}
	limit := s.limits.ExposureLimit(st.CounterpartyID)
	isBlocked := status.Derive(*st, zeroIfNil(group), limit, workflow) == model.StatusBlocked

	act := model.Activity{
		PTS: pts, ProcessingEntity: pe, SettlementID: settlementID, SettlementVersion: version,
		UserID: body.UserID, UserName: body.UserName, Action: action, Comment: body.Comment,
	}
	if err := s.ledger.Record(r.Context(), tx, act, isBlocked); err != nil {
		respondError(w, err)
		return
	}

	if err := tx.Commit(); err != nil {
		respondError(w, model.NewUpstreamError("commit activity", err))
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (s *Server) handleGroupSubtotal(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	valueDate, err := time.Parse("2006-01-02", vars["valueDate"])
	if err != nil {
		respondError(w, model.NewValidationError(model.FieldError{Field: "valueDate", Message: "must be an ISO-8601 date"}))
		return
	}

	key := model.GroupKey{
		PTS: vars["pts"], ProcessingEntity: vars["processingEntity"],
		CounterpartyID: vars["counterpartyId"], ValueDate: valueDate,
	}
	group, err := s.groups.Find(r.Context(), s.db.Conn(), key)
	if err != nil {
		respondError(w, model.NewUpstreamError("find group subtotal", err))
		return
	}
	if group == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"group": key, "running_total": "0", "settlement_count": 0,
		})
		return
	}
	respondJSON(w, http.StatusOK, group)
}

func zeroIfNil(g *model.GroupSubtotal) decimal.Decimal {
	if g == nil {
		return decimal.Zero
	}
	return g.RunningTotal
}
