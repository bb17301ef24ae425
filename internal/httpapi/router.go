package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"medinote/internal/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	CORSOrigins []string

	AuthMiddleware      *AuthMiddleware
	AuthHandler         *AuthHandler
	ConsultationHandler *ConsultationHandler
	RecordHandler       *RecordHandler
	ProxyHandler        *ProxyHandler
	RealtimeRelay       *RealtimeRelay
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(cfg.Log))
	r.Use(CORS(cfg.CORSOrigins))

	r.GET("/healthcheck", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := r.Group("/api")
	if cfg.AuthHandler != nil {
		api.POST("/auth/signup", cfg.AuthHandler.SignUp)
		api.POST("/auth/signin", cfg.AuthHandler.SignIn)
	}

	protected := api.Group("/")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}

	if cfg.AuthHandler != nil {
		protected.POST("/auth/signout", cfg.AuthHandler.SignOut)
		protected.GET("/me", cfg.AuthHandler.Me)
	}

	if h := cfg.ConsultationHandler; h != nil {
		protected.GET("/consultation", h.Status)
		protected.POST("/consultation/register", h.Register)
		protected.POST("/consultation/recording/start", h.StartRecording)
		protected.POST("/consultation/recording/stop", h.StopRecording)
		protected.POST("/consultation/audio", h.Audio)
		protected.POST("/consultation/end", h.End)
		protected.POST("/consultation/diagnosis", h.Diagnosis)
		protected.POST("/consultation/reset", h.Reset)
		protected.GET("/consultation/events", h.Events)
	}

	if h := cfg.RecordHandler; h != nil {
		protected.GET("/records", h.List)
		protected.GET("/records/export", h.Export)
		protected.POST("/records/import", h.Import)
		protected.GET("/records/:id", h.Get)
		protected.GET("/patients/history", h.PatientHistory)
		protected.GET("/settings", h.Settings)
		protected.PUT("/settings/:key", h.PutSetting)
	}

	if h := cfg.ProxyHandler; h != nil {
		protected.POST("/voice-to-text", h.VoiceToText)
		protected.POST("/diagnosis-analysis", h.DiagnosisAnalysis)
		protected.POST("/medical-law-review", h.MedicalLawReview)
		protected.POST("/simple-chat", h.SimpleChat)
	}

	if cfg.RealtimeRelay != nil {
		protected.GET("/realtime-voice-chat", cfg.RealtimeRelay.Serve)
	}

	return r
}

// NewServer wraps the router in an http.Server so the caller controls shutdown.
func NewServer(addr string, cfg RouterConfig) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
