package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/face-signup/internal/auth"
	"github.com/example/face-signup/internal/enrollment"
	"github.com/example/face-signup/internal/photo"
	"github.com/example/face-signup/internal/sessionstore"
	"github.com/example/face-signup/internal/usecase"
)

// MaxUploadSize bounds the photo part of a capture request.
const MaxUploadSize = photo.MaxUploadSize

// formOverhead leaves room for the text fields and multipart framing.
const formOverhead = 1 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.SignupUseCase, issuer *auth.TokenIssuer, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	router.POST("/signup/sessions", func(c *gin.Context) {
		session, err := uc.OpenSession(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		token, err := issuer.Issue(session.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session token"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"session_id": session.ID,
			"token":      token,
			"state":      session.State,
		})
	})

	signup := router.Group("/signup", authMiddleware)

	signup.GET("/session", func(c *gin.Context) {
		session, err := uc.Session(c.Request.Context(), sessionID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sessionView(session))
	})

	signup.PUT("/session/username", func(c *gin.Context) {
		out, err := uc.ChangeUsername(c.Request.Context(), sessionID(c), c.PostForm("username"))
		respond(c, out, err, http.StatusOK)
	})

	signup.POST("/capture", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+formOverhead)

		form, err := c.MultipartForm()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
			return
		}

		var header *multipart.FileHeader
		if files := form.File["image"]; len(files) > 0 {
			header = files[0]
		}
		// The photo is checked when the workflow asks for it, after the credential entries.
		upload := photo.FromFileHeader(header)
		out, err := uc.Capture(c.Request.Context(), sessionID(c), c.PostForm("username"), c.PostForm("password"), upload)
		respond(c, out, err, http.StatusOK)
	})

	signup.POST("/save", func(c *gin.Context) {
		out, err := uc.Save(c.Request.Context(), sessionID(c), c.PostForm("username"), c.PostForm("password"))
		respond(c, out, err, http.StatusCreated)
	})

	signup.POST("/cancel", func(c *gin.Context) {
		out, err := uc.Cancel(c.Request.Context(), sessionID(c))
		respond(c, out, err, http.StatusOK)
	})
}

func sessionID(c *gin.Context) string {
	id, _ := auth.GetSessionID(c.Request.Context())
	return id
}

func sessionView(s *enrollment.Session) gin.H {
	return gin.H{
		"session_id":      s.ID,
		"state":           s.State,
		"photo_confirmed": s.PhotoStatus == enrollment.PhotoCaptured,
		"username":        s.CandidateUsername,
	}
}

func respond(c *gin.Context, out *usecase.Outcome, err error, successStatus int) {
	if err != nil {
		respondError(c, err)
		return
	}

	res := out.Result
	if errors.Is(res.Err, enrollment.ErrSessionClosed) {
		c.JSON(http.StatusConflict, gin.H{"error": res.Message})
		return
	}

	body := gin.H{
		"outcome": res.Kind.String(),
		"session": sessionView(out.Session),
	}
	if res.Signal != enrollment.SignalNone {
		body["signal"] = res.Signal
	}

	switch res.Kind {
	case enrollment.ResultOK:
		c.JSON(successStatus, body)
	case enrollment.ResultAborted:
		c.JSON(http.StatusOK, body)
	default:
		body["error"] = res.Message
		c.JSON(failureStatus(res), body)
	}
}

// failureStatus keeps the transport-level statuses for rejected uploads.
func failureStatus(res enrollment.Result) int {
	switch {
	case errors.Is(res.Err, photo.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(res.Err, photo.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusUnprocessableEntity
	}
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sessionstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, enrollment.ErrInconsistentSession):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
