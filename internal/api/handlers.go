package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"qx-indexer/internal/domain"
	"qx-indexer/internal/storage"
)

const defaultQueryLimit = 100

// tradeJSON is the wire form of a trade. Total value is a decimal string
// because chain amounts exceed float64 precision.
type tradeJSON struct {
	TxID        string `json:"tx_id"`
	Tick        uint32 `json:"tick"`
	Timestamp   int64  `json:"timestamp"`
	AssetIssuer string `json:"asset_issuer"`
	AssetName   string `json:"asset_name"`
	Side        string `json:"side"`
	Trader      string `json:"trader"`
	Price       int64  `json:"price"`
	Quantity    int64  `json:"quantity"`
	TotalValue  string `json:"total_value"`
}

func toTradeJSON(t *domain.Trade) tradeJSON {
	return tradeJSON{
		TxID:        t.TxID,
		Tick:        t.Tick,
		Timestamp:   t.Timestamp,
		AssetIssuer: t.AssetIssuer,
		AssetName:   t.AssetName,
		Side:        t.Side,
		Trader:      t.Trader,
		Price:       t.Price,
		Quantity:    t.Quantity,
		TotalValue:  t.TotalValue.String(),
	}
}

func toTradesJSON(trades []*domain.Trade) []tradeJSON {
	out := make([]tradeJSON, len(trades))
	for i, t := range trades {
		out[i] = toTradeJSON(t)
	}
	return out
}

type holderJSON struct {
	Address          string  `json:"address"`
	AssetIssuer      string  `json:"asset_issuer"`
	AssetName        string  `json:"asset_name"`
	Balance          string  `json:"balance"`
	PercentOfSupply  float64 `json:"percent_of_supply"`
	FirstSeenTick    uint32  `json:"first_seen_tick"`
	LastActivityTick uint32  `json:"last_activity_tick"`
	TotalBought      string  `json:"total_bought"`
	TotalSold        string  `json:"total_sold"`
	BuyCount         int64   `json:"buy_count"`
	SellCount        int64   `json:"sell_count"`
	IsWhale          bool    `json:"is_whale"`
}

func toHoldersJSON(holders []*domain.Holder) []holderJSON {
	out := make([]holderJSON, len(holders))
	for i, h := range holders {
		out[i] = holderJSON{
			Address:          h.Address,
			AssetIssuer:      h.AssetIssuer,
			AssetName:        h.AssetName,
			Balance:          h.Balance.String(),
			PercentOfSupply:  h.PercentOfSupply,
			FirstSeenTick:    h.FirstSeenTick,
			LastActivityTick: h.LastActivityTick,
			TotalBought:      h.TotalBought.String(),
			TotalSold:        h.TotalSold.String(),
			BuyCount:         h.BuyCount,
			SellCount:        h.SellCount,
			IsWhale:          h.IsWhale,
		}
	}
	return out
}

type alertJSON struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	EventType     string                 `json:"event_type"`
	Conditions    domain.AlertConditions `json:"conditions"`
	Actions       []domain.AlertAction   `json:"actions"`
	Active        bool                   `json:"active"`
	LastTriggered int64                  `json:"last_triggered"`
	TriggerCount  int64                  `json:"trigger_count"`
	CreatedAt     int64                  `json:"created_at"`
}

func toAlertJSON(a *domain.Alert) alertJSON {
	return alertJSON{
		ID:            a.ID,
		Name:          a.Name,
		EventType:     a.EventType,
		Conditions:    a.Conditions,
		Actions:       a.Actions,
		Active:        a.Active,
		LastTriggered: a.LastTriggered,
		TriggerCount:  a.TriggerCount,
		CreatedAt:     a.CreatedAt,
	}
}

type webhookJSON struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	Active    bool     `json:"active"`
	CreatedAt int64    `json:"created_at"`
	// Secret is accepted on write but never echoed back.
	Secret string `json:"secret,omitempty"`
}

func toWebhookJSON(w *domain.WebhookSubscription) webhookJSON {
	return webhookJSON{
		ID:        w.ID,
		URL:       w.URL,
		Events:    w.Events,
		Active:    w.Active,
		CreatedAt: w.CreatedAt,
	}
}

// queryInt parses an integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

// timeWindow extracts the [from, to] ms window, defaulting to the last 24h.
func timeWindow(r *http.Request) (int64, int64) {
	now := time.Now().UnixMilli()
	from := queryInt(r, "from", now-24*time.Hour.Milliseconds())
	to := queryInt(r, "to", now)
	return from, to
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.respondError(w, http.StatusServiceUnavailable, "indexer status not available")
		return
	}
	s.respondJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleAssetTrades(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	from, to := timeWindow(r)
	limit := int(queryInt(r, "limit", defaultQueryLimit))

	trades, err := s.trades.GetByAsset(r.Context(), vars["issuer"], vars["name"], from, to, limit)
	if err != nil {
		s.internalError(w, "querying trades failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toTradesJSON(trades))
}

func (s *Server) handleTraderTrades(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	limit := int(queryInt(r, "limit", defaultQueryLimit))

	trades, err := s.trades.GetByTrader(r.Context(), vars["address"], limit)
	if err != nil {
		s.internalError(w, "querying trades failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toTradesJSON(trades))
}

func (s *Server) handleAssetHolders(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	limit := int(queryInt(r, "limit", defaultQueryLimit))

	holders, err := s.holders.ListByAsset(r.Context(), vars["issuer"], vars["name"], limit)
	if err != nil {
		s.internalError(w, "querying holders failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toHoldersJSON(holders))
}

func (s *Server) handleAssetWhales(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	whales, err := s.holders.Whales(r.Context(), vars["issuer"], vars["name"])
	if err != nil {
		s.internalError(w, "querying whales failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toHoldersJSON(whales))
}

func (s *Server) handleAssetVolume(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		s.respondError(w, http.StatusNotImplemented, "analytics backend not configured")
		return
	}

	vars := mux.Vars(r)
	from, to := timeWindow(r)
	bucketMinutes := queryInt(r, "bucket", 60)
	if bucketMinutes < 1 {
		bucketMinutes = 1
	}

	buckets, err := s.analytics.VolumeBuckets(r.Context(), vars["issuer"], vars["name"],
		from, to, time.Duration(bucketMinutes)*time.Minute)
	if err != nil {
		s.internalError(w, "querying volume buckets failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, buckets)
}

type alertRequest struct {
	Name       string                 `json:"name"`
	EventType  string                 `json:"event_type"`
	Conditions domain.AlertConditions `json:"conditions"`
	Actions    []domain.AlertAction   `json:"actions"`
	Active     *bool                  `json:"active"`
}

func (req *alertRequest) validate() string {
	if req.Name == "" {
		return "name is required"
	}
	switch req.EventType {
	case domain.EventVolumeSpike, domain.EventWhaleBuy, domain.EventHolderSurge:
	default:
		return "unknown event_type"
	}
	if req.Conditions.AssetIssuer == "" || req.Conditions.AssetName == "" {
		return "conditions.asset_issuer and conditions.asset_name are required"
	}
	return ""
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.alerts.List(r.Context())
	if err != nil {
		s.internalError(w, "listing alerts failed", err)
		return
	}
	out := make([]alertJSON, len(alerts))
	for i, a := range alerts {
		out[i] = toAlertJSON(a)
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	a := &domain.Alert{
		ID:         uuid.NewString(),
		Name:       req.Name,
		EventType:  req.EventType,
		Conditions: req.Conditions,
		Actions:    req.Actions,
		Active:     active,
		CreatedAt:  time.Now().UnixMilli(),
	}

	if err := s.alerts.Create(r.Context(), a); err != nil {
		s.internalError(w, "creating alert failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toAlertJSON(a))
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.alerts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "alert not found")
			return
		}
		s.internalError(w, "loading alert failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toAlertJSON(a))
}

func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := s.alerts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "alert not found")
			return
		}
		s.internalError(w, "loading alert failed", err)
		return
	}

	var req alertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	existing.Name = req.Name
	existing.EventType = req.EventType
	existing.Conditions = req.Conditions
	existing.Actions = req.Actions
	if req.Active != nil {
		existing.Active = *req.Active
	}

	if err := s.alerts.Update(r.Context(), existing); err != nil {
		s.internalError(w, "updating alert failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toAlertJSON(existing))
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.alerts.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "alert not found")
			return
		}
		s.internalError(w, "deleting alert failed", err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleTestAlert(w http.ResponseWriter, r *http.Request) {
	if s.tester == nil {
		s.respondError(w, http.StatusServiceUnavailable, "alert engine not available")
		return
	}

	res, err := s.tester.Test(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "alert not found")
			return
		}
		s.internalError(w, "evaluating alert failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

type webhookRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
	Active *bool    `json:"active"`
}

func (req *webhookRequest) validate() string {
	if req.URL == "" {
		return "url is required"
	}
	if req.Secret == "" {
		return "secret is required"
	}
	if len(req.Events) == 0 {
		return "at least one event is required"
	}
	return ""
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.webhooks.List(r.Context())
	if err != nil {
		s.internalError(w, "listing webhooks failed", err)
		return
	}
	out := make([]webhookJSON, len(hooks))
	for i, h := range hooks {
		out[i] = toWebhookJSON(h)
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		s.respondError(w, http.StatusBadRequest, msg)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	sub := &domain.WebhookSubscription{
		ID:        uuid.NewString(),
		URL:       req.URL,
		Secret:    req.Secret,
		Events:    req.Events,
		Active:    active,
		CreatedAt: time.Now().UnixMilli(),
	}

	if err := s.webhooks.Create(r.Context(), sub); err != nil {
		s.internalError(w, "creating webhook failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toWebhookJSON(sub))
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	sub, err := s.webhooks.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.internalError(w, "loading webhook failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toWebhookJSON(sub))
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := s.webhooks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.internalError(w, "loading webhook failed", err)
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.URL != "" {
		existing.URL = req.URL
	}
	if req.Secret != "" {
		existing.Secret = req.Secret
	}
	if len(req.Events) > 0 {
		existing.Events = req.Events
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}

	if err := s.webhooks.Update(r.Context(), existing); err != nil {
		s.internalError(w, "updating webhook failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toWebhookJSON(existing))
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.webhooks.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		s.internalError(w, "deleting webhook failed", err)
		return
	}
	s.respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, msg)
}
