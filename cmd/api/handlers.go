package main

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GideonEse/fete/internal/analysis"
	"github.com/GideonEse/fete/internal/auth"
	"github.com/GideonEse/fete/internal/detector"
	"github.com/GideonEse/fete/internal/export"
	"github.com/GideonEse/fete/internal/member"
	"github.com/GideonEse/fete/internal/metrics"
	"github.com/GideonEse/fete/internal/session"
	"github.com/GideonEse/fete/internal/vision"
)

func (a *app) routes(r *gin.Engine) {
	r.GET("/healthz", a.handleHealth)
	r.POST("/v1/members", a.handleRegister)
	r.POST("/v1/login", a.handleLogin)

	authed := r.Group("/v1", auth.Bearer(a.cfg.JWTSigningKey, a.cfg.JWTIssuer))
	authed.GET("/sessions/live", a.handleLiveSession)
	authed.GET("/sessions/live/events", a.handleLiveEvents)
	authed.GET("/history", a.handleHistory)
	authed.GET("/history/:id/export.xlsx", a.handleExport)
	authed.POST("/analysis", a.handleAnalysis)

	admin := authed.Group("", auth.RequireAdmin())
	admin.POST("/sessions/start", a.handleStartSession)
	admin.POST("/sessions/exit-scan", a.handleStartExitScan)
	admin.POST("/sessions/end", a.handleEndSession)
}

func (a *app) handleHealth(c *gin.Context) {
	status := http.StatusOK
	redisHealthy := true
	if a.redis != nil {
		redisHealthy = a.redis.Healthy(c.Request.Context())
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{
		"status": "ok",
		"store":  a.cfg.StoreBackend,
		"redis":  redisHealthy,
	})
}

// memberView is the registration/login response shape: no password hash,
// no descriptor payload.
type memberView struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	MatricNumber string      `json:"matric_number,omitempty"`
	Role         member.Role `json:"role"`
	AvatarRef    string      `json:"avatar_ref,omitempty"`
}

func viewOf(m member.Member) memberView {
	return memberView{
		ID:           m.ID,
		Name:         m.Name,
		MatricNumber: m.MatricNumber,
		Role:         m.Role,
		AvatarRef:    m.AvatarRef,
	}
}

func (a *app) handleRegister(c *gin.Context) {
	var req struct {
		Name           string    `json:"name" binding:"required"`
		MatricNumber   string    `json:"matric_number"`
		Role           string    `json:"role" binding:"required"`
		Password       string    `json:"password" binding:"required"`
		FacialImage    string    `json:"facial_image"`
		FaceDescriptor []float32 `json:"face_descriptor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	avatarRef := req.FacialImage
	if a.cdn != nil && req.FacialImage != "" {
		result, err := a.cdn.UploadAvatar(req.FacialImage)
		if err != nil {
			a.log.Warn("avatar upload failed, keeping raw reference", zap.Error(err))
		} else {
			avatarRef = result.SecureURL
		}
	}

	m, err := a.registry.Add(c.Request.Context(), member.AddInput{
		Name:           req.Name,
		MatricNumber:   req.MatricNumber,
		Role:           member.Role(req.Role),
		Password:       req.Password,
		AvatarRef:      avatarRef,
		FaceDescriptor: req.FaceDescriptor,
	})
	if err != nil {
		if errors.Is(err, member.ErrDuplicateIdentity) {
			c.JSON(http.StatusConflict, gin.H{"error": "a member with this identity already exists"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The descriptor corpus is stale after every registration.
	a.matcher.Rebuild(a.registry.List(), a.registry.Version())

	c.JSON(http.StatusCreated, viewOf(m))
}

func (a *app) handleLogin(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier" binding:"required"`
		Password   string `json:"password" binding:"required"`
		Role       string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := a.registry.Authenticate(req.Identifier, req.Password, member.Role(req.Role))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tokens, err := auth.Issue(m.ID, string(m.Role), a.cfg.JWTIssuer, a.cfg.JWTSigningKey, a.cfg.AccessTTL, a.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"member":        viewOf(m),
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (a *app) handleStartSession(c *gin.Context) {
	a.liveMu.Lock()
	defer a.liveMu.Unlock()

	if a.live != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "a session is already active"})
		return
	}
	if a.matcher.Version() != a.registry.Version() {
		a.matcher.Rebuild(a.registry.List(), a.registry.Version())
	}

	runner := &detector.Runner{
		Camera:   vision.NewSnapshotCamera(a.cfg.CameraURL),
		Vision:   a.vision,
		Matcher:  a.matcher,
		Engine:   a.engine,
		Registry: a.registry,
		Feed:     a.feed,
		Interval: a.cfg.PollInterval,
		Log:      a.log,
	}

	// The loop lives beyond this request; tie it to the server context.
	handle, err := runner.Start(a.baseCtx)
	if err != nil {
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error(), "code": preflightCode(err)})
		return
	}

	sess, err := a.engine.StartSession(c.Request.Context())
	if err != nil {
		handle.Stop()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	a.live = handle
	metrics.SessionsStarted.Inc()

	c.JSON(http.StatusCreated, sess)
}

// preflightCode maps gate failures to stable codes for the UI.
func preflightCode(err error) string {
	switch {
	case errors.Is(err, detector.ErrNoCameraAccess):
		return "NoCameraAccess"
	case errors.Is(err, detector.ErrModelsNotLoaded):
		return "ModelsNotLoaded"
	case errors.Is(err, detector.ErrNoMembersRegistered):
		return "NoMembersRegistered"
	case errors.Is(err, detector.ErrNoBiometricMembers):
		return "NoBiometricMembers"
	default:
		return "PreflightFailed"
	}
}

func (a *app) handleStartExitScan(c *gin.Context) {
	a.engine.StartExitScan(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"state": a.engine.State()})
}

func (a *app) handleEndSession(c *gin.Context) {
	a.liveMu.Lock()
	defer a.liveMu.Unlock()

	if a.live != nil {
		a.live.Stop()
		a.live = nil
	}

	archived, err := a.engine.EndSession(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	metrics.SessionsEnded.Inc()
	c.JSON(http.StatusOK, archived)
}

func (a *app) handleLiveSession(c *gin.Context) {
	sess, ok := a.engine.Current()
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"active":        false,
			"total_members": a.registry.NonAdminCount(),
		})
		return
	}
	late := 0
	for _, att := range sess.Attendees {
		if att.Status == session.StatusLate {
			late++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"active":        true,
		"session":       sess,
		"present":       len(sess.Attendees),
		"late":          late,
		"total_members": a.registry.NonAdminCount(),
	})
}

func (a *app) handleLiveEvents(c *gin.Context) {
	ch, cancel, err := a.feed.Subscribe(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live feed unavailable"})
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("attendance", evt)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (a *app) handleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": a.engine.History()})
}

func (a *app) handleExport(c *gin.Context) {
	archived, ok := a.engine.FindArchived(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	f, err := export.BuildAttendanceWorkbook(archived, a.registry.List())
	if err != nil {
		a.log.Error("building workbook failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="attendance_`+archived.ID+`.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		a.log.Warn("writing workbook failed", zap.Error(err))
	}
}

func (a *app) handleAnalysis(c *gin.Context) {
	if a.analyzer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis not configured"})
		return
	}

	var req struct {
		Query string `json:"query" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, ok := a.engine.Current()
	if !ok || len(sess.Attendees) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no attendance data from the current session to analyze"})
		return
	}

	result, err := a.analyzer.Analyze(c.Request.Context(), req.Query, analysis.FlattenAttendees(sess.Attendees))
	if err != nil {
		a.log.Warn("analysis failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"analysis": "Could not perform analysis. Please try again."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": result})
}
