package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/signdesk/signdesk/internal/audit"
	"github.com/signdesk/signdesk/internal/document"
	"github.com/signdesk/signdesk/internal/document/service"
	"github.com/signdesk/signdesk/internal/models"
	"github.com/signdesk/signdesk/internal/signing"
	"github.com/signdesk/signdesk/internal/storage"
	"github.com/signdesk/signdesk/pkg/logger"
	"github.com/signdesk/signdesk/pkg/middleware"
)

// defaultLongPoll bounds GET .../signing?wait=true.
const defaultLongPoll = 25 * time.Second

// AttemptLog exposes the audit trail of signing attempts.
type AttemptLog interface {
	Load(ctx context.Context, id string) (*audit.Attempt, error)
	Unreconciled(ctx context.Context) ([]*audit.Attempt, error)
	MarkReconciled(ctx context.Context, id string) error
}

// Handler serves the distribution and signing API.
type Handler struct {
	docs      *service.Service
	signing   *signing.Manager
	files     storage.FileStore
	attempts  AttemptLog
	maxUpload int64
	longPoll  time.Duration
}

func New(docs *service.Service, mgr *signing.Manager, files storage.FileStore, maxUpload int64) *Handler {
	return &Handler{docs: docs, signing: mgr, files: files, maxUpload: maxUpload, longPoll: defaultLongPoll}
}

// WithAttempts enables the signing-attempts routes.
func (h *Handler) WithAttempts(a AttemptLog) *Handler {
	h.attempts = a
	return h
}

// Register mounts the routes. The group must already run AuthMiddleware.
func (h *Handler) Register(rg *gin.RouterGroup) {
	d := rg.Group("/signable-documents")
	d.GET("", h.List)
	d.POST("", middleware.RequireManager(), h.Create)
	d.GET("/:id", h.Get)
	d.DELETE("/:id", middleware.RequireManager(), h.Delete)
	d.GET("/:id/file", h.DocumentFile)

	d.GET("/:id/signing", h.Session)
	d.DELETE("/:id/signing", h.Dismiss)
	d.POST("/:id/signing/open", h.Open)
	d.POST("/:id/signing/confirm", h.Confirm)

	rg.GET("/users", middleware.RequireManager(), h.Users)
	rg.POST("/files", middleware.RequireManager(), h.Upload)
	rg.GET("/files/*ref", h.Download)

	if h.attempts != nil {
		a := rg.Group("/signing-attempts", middleware.RequireManager())
		a.GET("/unreconciled", h.Unreconciled)
		a.GET("/:attemptId", h.Attempt)
		a.POST("/:attemptId/reconcile", h.Reconcile)
	}
}

type progressView struct {
	Signed  int `json:"signed"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

type documentView struct {
	*document.SignableDocument
	Progress progressView `json:"progress"`
	// SignedByMe is set for the caller's own entry.
	SignedByMe *bool `json:"signedByMe,omitempty"`
}

func viewOf(d *document.SignableDocument, caller *models.User) documentView {
	signed, total := d.Progress()
	v := documentView{SignableDocument: d, Progress: progressView{Signed: signed, Total: total, Percent: d.Percent()}}
	if d.HasSigner(caller.Sub) {
		mine := d.SignedFor(caller.Sub)
		v.SignedByMe = &mine
	}
	return v
}

type sessionView struct {
	*signing.Session
	CanClose bool `json:"canClose"`
}

func (h *Handler) List(c *gin.Context) {
	caller := middleware.CurrentUser(c)
	status, err := service.ParseStatus(c.Query("status"))
	if err != nil {
		writeError(c, err)
		return
	}
	list, err := h.docs.List(c.Request.Context(), caller, service.Filter{Status: status, OwnerID: c.Query("ownerId")})
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]documentView, 0, len(list))
	for _, d := range list {
		out = append(out, viewOf(d, caller))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Create(c *gin.Context) {
	var in service.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller := middleware.CurrentUser(c)
	d, err := h.docs.Create(c.Request.Context(), caller, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewOf(d, caller))
}

func (h *Handler) Get(c *gin.Context) {
	caller := middleware.CurrentUser(c)
	d, err := h.docs.Get(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(d, caller))
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.docs.Delete(c.Request.Context(), middleware.CurrentUser(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DocumentFile streams the caller's signed copy once it exists and the
// original otherwise.
func (h *Handler) DocumentFile(c *gin.Context) {
	caller := middleware.CurrentUser(c)
	d, err := h.docs.Get(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if entry, ok := d.SignatureFor(caller.Sub); ok && entry.Signed && entry.SignedFileName != "" {
		err := h.stream(c, entry.SignedFileName)
		if err == nil {
			return
		}
		if !errors.Is(err, storage.ErrObjectNotFound) {
			writeError(c, err)
			return
		}
		logger.Warnf("signed artifact %s missing, serving original of %s", entry.SignedFileName, d.ID)
	}
	if err := h.stream(c, d.File); err != nil {
		writeError(c, err)
	}
}

func (h *Handler) Users(c *gin.Context) {
	list, err := h.docs.Users(c.Request.Context(), middleware.CurrentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Upload stores an original artifact and returns its reference together
// with the SHA-256 digest to pass on to Create.
func (h *Handler) Upload(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	if h.maxUpload > 0 && fh.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds " + strconv.FormatInt(h.maxUpload, 10) + " bytes"})
		return
	}
	key, err := storage.CleanKey(path.Join("originals", uuid.NewString(), path.Base(fh.Filename)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = contentType(key)
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	sum := sha256.New()
	if err := h.files.UploadFile(c.Request.Context(), key, io.TeeReader(f, sum), fh.Size, ct); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"file":          key,
		"contentDigest": hex.EncodeToString(sum.Sum(nil)),
		"size":          fh.Size,
	})
}

func (h *Handler) Download(c *gin.Context) {
	key, err := storage.CleanKey(c.Param("ref"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.stream(c, key); err != nil {
		writeError(c, err)
	}
}

func (h *Handler) stream(c *gin.Context, key string) error {
	rc, err := h.files.DownloadFile(c.Request.Context(), key)
	if err != nil {
		return err
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, -1, contentType(key), rc, map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(key)}),
	})
	return nil
}

func (h *Handler) Session(c *gin.Context) {
	caller := middleware.CurrentUser(c)
	docID := c.Param("id")
	var (
		s   *signing.Session
		err error
	)
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.longPoll)
		s, err = h.signing.Wait(ctx, docID, caller.Sub)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			s, err = h.signing.Get(c.Request.Context(), docID, caller.Sub)
		}
	} else {
		s, err = h.signing.Get(c.Request.Context(), docID, caller.Sub)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionView{Session: s, CanClose: signing.CanClose(s.State)})
}

func (h *Handler) Open(c *gin.Context) {
	s, err := h.signing.Open(c.Request.Context(), c.Param("id"), middleware.CurrentUser(c).Sub)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionView{Session: s, CanClose: signing.CanClose(s.State)})
}

func (h *Handler) Confirm(c *gin.Context) {
	caller := middleware.CurrentUser(c)
	name := caller.Name
	if name == "" {
		name = caller.Email
	}
	s, err := h.signing.Confirm(c.Request.Context(), c.Param("id"), signing.Signer{ID: caller.Sub, Name: name})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sessionView{Session: s, CanClose: signing.CanClose(s.State)})
}

func (h *Handler) Dismiss(c *gin.Context) {
	if err := h.signing.Dismiss(c.Request.Context(), c.Param("id"), middleware.CurrentUser(c).Sub); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Unreconciled lists signatures the agent produced that never reached the
// ledger.
func (h *Handler) Unreconciled(c *gin.Context) {
	list, err := h.attempts.Unreconciled(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) Attempt(c *gin.Context) {
	a, err := h.attempts.Load(c.Request.Context(), c.Param("attemptId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) Reconcile(c *gin.Context) {
	id := c.Param("attemptId")
	if err := h.attempts.MarkReconciled(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("signing attempt %s reconciled by %s", id, middleware.CurrentUser(c).Sub)
	c.Status(http.StatusNoContent)
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, document.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrForbidden):
		return http.StatusForbidden
	// already signed before not found: the former matches both
	case errors.Is(err, document.ErrAlreadySigned),
		errors.Is(err, signing.ErrAttemptInFlight),
		errors.Is(err, signing.ErrInvalidTransition),
		errors.Is(err, signing.ErrCloseBlocked):
		return http.StatusConflict
	case errors.Is(err, document.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
