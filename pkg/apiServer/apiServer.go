// Package apiServer exposes the engine's stored quantities as read-only
// JSON views. Nothing here mutates state; mutation stays behind the
// engine's guarded operations.
package apiServer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/meridian-labs/emissions-engine/internal/config"
	"github.com/meridian-labs/emissions-engine/internal/metrics"
	"github.com/meridian-labs/emissions-engine/internal/metrics/metricsTypes"
	"github.com/meridian-labs/emissions-engine/internal/types/numbers"
	"github.com/meridian-labs/emissions-engine/pkg/engine"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

type ApiServer struct {
	logger      *zap.Logger
	cfg         *config.ApiConfig
	engine      *engine.Engine
	metricsSink *metrics.MetricsSink
	server      *http.Server
}

func NewApiServer(cfg *config.ApiConfig, eng *engine.Engine, sink *metrics.MetricsSink, l *zap.Logger) *ApiServer {
	return &ApiServer{
		logger:      l,
		cfg:         cfg,
		engine:      eng,
		metricsSink: sink,
	}
}

func (a *ApiServer) Router() http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/positions/{participant}", a.handleListPositions).Methods(http.MethodGet)
	v1.HandleFunc("/positions/{participant}/{id}", a.handleGetPosition).Methods(http.MethodGet)
	v1.HandleFunc("/weights/total", a.handleTotalWeights).Methods(http.MethodGet)
	v1.HandleFunc("/weights/{participant}", a.handleParticipantWeight).Methods(http.MethodGet)
	v1.HandleFunc("/cache", a.handleCacheStatus).Methods(http.MethodGet)
	v1.HandleFunc("/epochs/current", a.handleCurrentEpoch).Methods(http.MethodGet)
	v1.HandleFunc("/epochs/pending", a.handlePendingEpochs).Methods(http.MethodGet)
	v1.HandleFunc("/epochs/{id}", a.handleGetEpoch).Methods(http.MethodGet)
	v1.HandleFunc("/snapshots/{epoch}/{participant}", a.handleGetSnapshot).Methods(http.MethodGet)
	v1.HandleFunc("/claims/{epoch}/{participant}", a.handleGetClaim).Methods(http.MethodGet)
	v1.HandleFunc("/distributed/{participant}/{id}", a.handleGetDistributed).Methods(http.MethodGet)

	var handler http.Handler = r
	if a.cfg.EnableCors {
		handler = cors.AllowAll().Handler(handler)
	}
	return a.withRequestMetrics(handler)
}

func (a *ApiServer) Start() error {
	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HttpPort),
		Handler: a.Router(),
	}
	a.logger.Sugar().Infow("api server listening", zap.Int("port", a.cfg.HttpPort))
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *ApiServer) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// statusRecorder captures the response code for the request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (a *ApiServer) withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		labels := []metricsTypes.MetricsLabel{
			{Name: "method", Value: r.Method},
			{Name: "path", Value: r.URL.Path},
			{Name: "status_code", Value: strconv.Itoa(rec.status)},
		}
		a.metricsSink.Incr(metricsTypes.Metric_Incr_HttpRequest, labels, 1)
		a.metricsSink.Timing(metricsTypes.Metric_Timing_HttpDuration, time.Since(start), labels)
	})
}

type amountJson struct {
	Raw    string `json:"raw"`
	Tokens string `json:"tokens"`
}

func renderAmount(v *big.Int) amountJson {
	if v == nil {
		v = big.NewInt(0)
	}
	return amountJson{
		Raw:    v.String(),
		Tokens: numbers.ToTokens(v),
	}
}

type positionJson struct {
	Id                     uint64     `json:"id"`
	Participant            string     `json:"participant"`
	Adapter                string     `json:"adapter"`
	Amount                 amountJson `json:"amount"`
	LockMonths             uint64     `json:"lockMonths"`
	CreatedAt              time.Time  `json:"createdAt"`
	UnlockAt               time.Time  `json:"unlockAt"`
	RawWeight              amountJson `json:"rawWeight"`
	VestedWeight           amountJson `json:"vestedWeight"`
	EarlyUnlockRequestedAt *time.Time `json:"earlyUnlockRequestedAt,omitempty"`
	DistributedAmount      amountJson `json:"distributedAmount"`
}

func renderPosition(p *engine.PositionView) *positionJson {
	out := &positionJson{
		Id:                p.ID,
		Participant:       p.Participant,
		Adapter:           p.Adapter,
		Amount:            renderAmount(p.Amount),
		LockMonths:        p.LockMonths,
		CreatedAt:         p.CreatedAt,
		UnlockAt:          p.UnlockAt,
		RawWeight:         renderAmount(p.RawWeight),
		VestedWeight:      renderAmount(p.VestedWeight),
		DistributedAmount: renderAmount(p.DistributedAmount),
	}
	if !p.EarlyUnlockRequestedAt.IsZero() {
		t := p.EarlyUnlockRequestedAt
		out.EarlyUnlockRequestedAt = &t
	}
	return out
}

func (a *ApiServer) writeJson(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Sugar().Errorw("failed to encode response", zap.Error(err))
	}
}

func (a *ApiServer) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJson(w, status, map[string]string{"error": msg})
}

func parseUint(vars map[string]string, key string) (uint64, error) {
	return strconv.ParseUint(vars[key], 10, 64)
}

func (a *ApiServer) handleListPositions(w http.ResponseWriter, r *http.Request) {
	participant := mux.Vars(r)["participant"]
	positions := a.engine.Positions(participant)
	out := make([]*positionJson, 0, len(positions))
	for _, p := range positions {
		out = append(out, renderPosition(p))
	}
	a.writeJson(w, http.StatusOK, map[string]interface{}{"positions": out})
}

func (a *ApiServer) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := parseUint(vars, "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}
	p := a.engine.Position(vars["participant"], id)
	if p == nil {
		a.writeError(w, http.StatusNotFound, "position not found")
		return
	}
	a.writeJson(w, http.StatusOK, renderPosition(p))
}

func (a *ApiServer) handleParticipantWeight(w http.ResponseWriter, r *http.Request) {
	participant := mux.Vars(r)["participant"]
	raw, vested := a.engine.ParticipantWeight(participant)
	a.writeJson(w, http.StatusOK, map[string]interface{}{
		"participant":  participant,
		"rawWeight":    renderAmount(raw),
		"vestedWeight": renderAmount(vested),
	})
}

func (a *ApiServer) handleTotalWeights(w http.ResponseWriter, r *http.Request) {
	a.writeJson(w, http.StatusOK, map[string]interface{}{
		"globalRawWeight":   renderAmount(a.engine.GlobalRawWeight()),
		"totalVestedWeight": renderAmount(a.engine.TotalVestedWeight()),
		"participants":      a.engine.ParticipantCount(),
	})
}

func (a *ApiServer) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	status := a.engine.CacheStatus()
	body := map[string]interface{}{
		"cachedTotal": renderAmount(status.CachedTotal),
		"inProgress":  status.InProgress,
		"cursor":      status.Cursor,
		"accumulator": renderAmount(status.Accumulator),
	}
	if !status.LastCompletedAt.IsZero() {
		body["lastCompletedAt"] = status.LastCompletedAt
	}
	a.writeJson(w, http.StatusOK, body)
}

func (a *ApiServer) handleCurrentEpoch(w http.ResponseWriter, r *http.Request) {
	a.writeJson(w, http.StatusOK, map[string]interface{}{
		"currentEpoch":    a.engine.CurrentEpoch(),
		"pendingEpochs":   a.engine.PendingEpochs(),
		"timeToNextEpoch": a.engine.TimeToNextEpoch().String(),
	})
}

func (a *ApiServer) handlePendingEpochs(w http.ResponseWriter, r *http.Request) {
	a.writeJson(w, http.StatusOK, map[string]interface{}{
		"pendingEpochs": a.engine.PendingEpochs(),
	})
}

func (a *ApiServer) handleGetEpoch(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint(mux.Vars(r), "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid epoch id")
		return
	}
	ep := a.engine.EpochInfo(id)
	if ep == nil {
		a.writeError(w, http.StatusNotFound, "epoch not finalized")
		return
	}
	body := map[string]interface{}{
		"id":      ep.ID,
		"skipped": ep.Skipped,
	}
	if !ep.Skipped {
		body["totalEmission"] = renderAmount(ep.TotalEmission)
		body["totalWeight"] = renderAmount(ep.TotalWeight)
		body["minted"] = renderAmount(ep.Minted)
		body["finalizedAt"] = ep.FinalizedAt
	}
	a.writeJson(w, http.StatusOK, body)
}

func (a *ApiServer) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	epoch, err := parseUint(vars, "epoch")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid epoch id")
		return
	}
	snap := a.engine.SnapshotInfo(epoch, vars["participant"])
	if snap == nil {
		a.writeError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	positions := make([]map[string]interface{}, 0, len(snap.Positions))
	for _, pw := range snap.Positions {
		positions = append(positions, map[string]interface{}{
			"positionId": pw.PositionID,
			"weight":     renderAmount(pw.Weight),
		})
	}
	a.writeJson(w, http.StatusOK, map[string]interface{}{
		"epoch":       snap.Epoch,
		"participant": snap.Participant,
		"totalWeight": renderAmount(snap.TotalWeight),
		"positions":   positions,
		"takenAt":     snap.TakenAt,
	})
}

func (a *ApiServer) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	epoch, err := parseUint(vars, "epoch")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid epoch id")
		return
	}
	a.writeJson(w, http.StatusOK, map[string]interface{}{
		"epoch":       epoch,
		"participant": vars["participant"],
		"claimed":     a.engine.HasClaimed(epoch, vars["participant"]),
	})
}

func (a *ApiServer) handleGetDistributed(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := parseUint(vars, "id")
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}
	a.writeJson(w, http.StatusOK, map[string]interface{}{
		"participant": vars["participant"],
		"positionId":  id,
		"distributed": renderAmount(a.engine.DistributedAmount(vars["participant"], id)),
	})
}
