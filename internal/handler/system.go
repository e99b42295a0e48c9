package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ragcore/ragcore/internal/config"
	"github.com/ragcore/ragcore/internal/logger"
)

// SystemHandler exposes build and backend-configuration introspection.
type SystemHandler struct {
	cfg *config.Config
}

func NewSystemHandler(cfg *config.Config) *SystemHandler {
	return &SystemHandler{cfg: cfg}
}

// Build-time version info, injected via -ldflags the way the teacher's
// system handler does.
var (
	Version   = "unknown"
	CommitID  = "unknown"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

// GetSystemInfoResponse is the payload for GET /system/info.
type GetSystemInfoResponse struct {
	Version           string `json:"version"`
	CommitID          string `json:"commit_id,omitempty"`
	BuildTime         string `json:"build_time,omitempty"`
	GoVersion         string `json:"go_version,omitempty"`
	VectorStoreEngine string `json:"vector_store_engine"`
}

// GetSystemInfo handles GET /system/info. Kept on the teacher's
// {"code":0,"msg":"success","data":...} envelope rather than the
// {"success":true,"data":...} one the resource handlers use — the teacher
// carries both styles side by side and this handler is grounded on the
// one it used for the same endpoint.
func (h *SystemHandler) GetSystemInfo(c *gin.Context) {
	ctx := logger.CloneContext(c.Request.Context())

	engine := "unconfigured"
	if h.cfg != nil && h.cfg.VectorDatabase != nil && h.cfg.VectorDatabase.Driver != "" {
		engine = h.cfg.VectorDatabase.Driver
	}

	response := GetSystemInfoResponse{
		Version:           Version,
		CommitID:          CommitID,
		BuildTime:         BuildTime,
		GoVersion:         GoVersion,
		VectorStoreEngine: engine,
	}

	logger.Info(ctx, "system info retrieved")
	c.JSON(200, gin.H{
		"code": 0,
		"msg":  "success",
		"data": response,
	})
}
