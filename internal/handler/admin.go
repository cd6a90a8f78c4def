package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"stocksync/internal/queue"
	"stocksync/internal/repository"
	"stocksync/internal/service"
	"stocksync/pkg/apierror"
	"stocksync/pkg/response"
)

// AdminHandler serves operator endpoints for replicas and catalog maintenance.
type AdminHandler struct {
	engine    *service.Engine
	store     repository.Store
	queue     queue.Queue // nil when intake runs inline
	dbType    string
	startTime time.Time
	log       *log.Entry
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(engine *service.Engine, store repository.Store, q queue.Queue, dbType string) *AdminHandler {
	return &AdminHandler{
		engine:    engine,
		store:     store,
		queue:     q,
		dbType:    dbType,
		startTime: time.Now(),
		log:       log.WithField("component", "admin"),
	}
}

// GetStats handles GET /admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["db_type"] = h.dbType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if h.queue != nil {
		size, err := h.queue.Size(ctx)
		if err == nil {
			stats["queue"] = map[string]interface{}{
				"pending_jobs": size,
				"status":       "connected",
			}
		} else {
			stats["queue"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	} else {
		stats["queue"] = map[string]interface{}{
			"status": "inline",
		}
	}

	dbStats, err := h.store.GetStats(ctx)
	if err == nil {
		dbStats["status"] = "connected"
		stats["store"] = dbStats
	} else {
		stats["store"] = map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		}
	}

	response.OK(w, stats)
}

// ListReplicas handles GET /admin/replicas
func (h *AdminHandler) ListReplicas(w http.ResponseWriter, r *http.Request) {
	replicas, err := h.engine.Replicas(r.Context())
	if err != nil {
		response.Error(w, serviceError(err))
		return
	}
	response.OK(w, replicas)
}

// EnableReplica handles POST /admin/replicas/{domain}/enable
func (h *AdminHandler) EnableReplica(w http.ResponseWriter, r *http.Request) {
	h.setSync(w, r, true)
}

// DisableReplica handles POST /admin/replicas/{domain}/disable
func (h *AdminHandler) DisableReplica(w http.ResponseWriter, r *http.Request) {
	h.setSync(w, r, false)
}

func (h *AdminHandler) setSync(w http.ResponseWriter, r *http.Request, enabled bool) {
	domain := chi.URLParam(r, "domain")
	if domain == "" {
		response.Error(w, apierror.BadRequest("domain is required"))
		return
	}
	replica, err := h.engine.SetReplicaSync(r.Context(), domain, enabled)
	if err != nil {
		response.Error(w, serviceError(err))
		return
	}
	response.OK(w, replica)
}

// BulkPush handles POST /admin/replicas/{domain}/bulk-push
func (h *AdminHandler) BulkPush(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	result, err := h.engine.BulkPush(r.Context(), domain)
	if err != nil {
		h.log.WithError(err).WithField("replica", domain).Warn("bulk push failed")
		response.Error(w, serviceError(err))
		return
	}
	response.OK(w, result)
}

// CatalogSync handles POST /admin/replicas/{domain}/catalog-sync
func (h *AdminHandler) CatalogSync(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	result, err := h.engine.CatalogSync(r.Context(), domain)
	if err != nil {
		h.log.WithError(err).WithField("replica", domain).Warn("catalog sync failed")
		response.Error(w, serviceError(err))
		return
	}
	response.OK(w, result)
}
