package handler

import (
	"net/http"
	"runtime"
	"time"

	"vinreports-api/internal/repository"
	"vinreports-api/internal/service"
	"vinreports-api/pkg/apierror"
	"vinreports-api/pkg/response"
)

// AdminHandler handles admin-related HTTP requests. All routes require
// the X-Login-Key header to match the configured login key.
type AdminHandler struct {
	reportRepo  repository.ReportCacheRepository // Interface instead of concrete type
	billingRepo repository.BillingRepository
	share       *service.ShareService
	dbType      string // Database type: sqlite, postgres, mongodb
	loginKey    string
	startTime   time.Time
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(
	reportRepo repository.ReportCacheRepository,
	billingRepo repository.BillingRepository,
	share *service.ShareService,
	dbType string,
	loginKey string,
) *AdminHandler {
	return &AdminHandler{
		reportRepo:  reportRepo,
		billingRepo: billingRepo,
		share:       share,
		dbType:      dbType,
		loginKey:    loginKey,
		startTime:   time.Now(),
	}
}

// RequireLoginKey guards the admin routes with the X-Login-Key header.
func (h *AdminHandler) RequireLoginKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.loginKey == "" || r.Header.Get("X-Login-Key") != h.loginKey {
			response.Error(w, apierror.Forbidden("Invalid login key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["db_type"] = h.dbType // sqlite, postgres, or mongodb

	// Memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
		"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
		"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
		"heap_alloc_mb":  float64(memStats.HeapAlloc) / 1024 / 1024,
		"heap_inuse_mb":  float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":         memStats.NumGC,
		"goroutines":     runtime.NumGoroutine(),
	}

	// Report cache stats
	if h.reportRepo != nil {
		cacheStats, err := h.reportRepo.Stats(ctx)
		if err == nil {
			cacheStats["status"] = "connected"
			stats["report_cache"] = cacheStats
		} else {
			stats["report_cache"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	} else {
		stats["report_cache"] = map[string]interface{}{
			"status": "not_configured",
		}
	}

	// Runtime info
	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}

// GetHealth handles GET /api/v1/admin/health
func (h *AdminHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// PurgeShares handles POST /api/v1/admin/shares/purge, forcing an
// immediate sweep of expired share tokens.
func (h *AdminHandler) PurgeShares(w http.ResponseWriter, r *http.Request) {
	if h.share == nil {
		response.Error(w, apierror.ServiceUnavailable("share service not configured"))
		return
	}

	purged, err := h.share.PurgeExpired()
	if err != nil {
		response.Error(w, apierror.InternalError("failed to purge share tokens"))
		return
	}

	response.OK(w, map[string]interface{}{
		"status": "purged",
		"count":  purged,
	})
}
