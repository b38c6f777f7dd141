package server

import (
	"context"
	"net/http"

	"stereo-calib/internal/app"
	"stereo-calib/internal/capture"
	"stereo-calib/internal/frame"
	"stereo-calib/internal/version"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

func (s *Server) getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.String())
}

func (s *Server) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.ctl.Status())
}

// command wraps a runner command. Commands that do not apply to the current
// state are reported with accepted=false, not as an error.
func (s *Server) command(fn func(ctx context.Context) (bool, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := fn(c.Request.Context())
		if err != nil {
			s.abort(c, err)
			return
		}
		c.IndentedJSON(http.StatusOK, CommandResponse{Accepted: ok, Status: s.ctl.Status()})
	}
}

// SettingsRequest is the body of PUT /settings. Out-of-range lengths,
// zero included, are clamped by the runner.
type SettingsRequest struct {
	SquareLengthMm *float64 `json:"square_length_mm" binding:"required"`
}

func (s *Server) putSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.BindJSON(&req); err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	ok, err := s.ctl.SetSquareLength(c.Request.Context(), *req.SquareLengthMm)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, CommandResponse{Accepted: ok, Status: s.ctl.Status()})
}

// PreviewModeRequest is the body of PUT /preview-mode.
type PreviewModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (s *Server) putPreviewMode(c *gin.Context) {
	var req PreviewModeRequest
	if err := c.BindJSON(&req); err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if err := s.ctl.SetPreviewMode(c.Request.Context(), capture.ParsePreviewMode(req.Mode)); err != nil {
		s.abort(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, s.ctl.Status())
}

func (s *Server) getPreview(c *gin.Context) {
	side, err := frame.ParseSide(c.Param("side"))
	if err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	var mode *capture.PreviewMode
	if q := c.Query("mode"); q != "" {
		m := capture.ParsePreviewMode(q)
		mode = &m
	}

	png, err := s.ctl.Preview(c.Request.Context(), side, mode)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) abort(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrNoSession):
		c.AbortWithError(http.StatusNotFound, err)
	case errors.Is(err, app.ErrStopped):
		c.AbortWithError(http.StatusServiceUnavailable, err)
	default:
		c.AbortWithError(http.StatusInternalServerError, err)
	}
}
