package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codetribe/bootcamp-api/internal/models"
	"github.com/codetribe/bootcamp-api/internal/service"
	appErrors "github.com/codetribe/bootcamp-api/pkg/errors"
	"github.com/codetribe/bootcamp-api/pkg/response"
)

// CertificateHandler exposes certificate lifecycle endpoints.
type CertificateHandler struct {
	certificates *service.CertificateService
}

// NewCertificateHandler constructs CertificateHandler.
func NewCertificateHandler(certificates *service.CertificateService) *CertificateHandler {
	return &CertificateHandler{certificates: certificates}
}

// Apply godoc
// @Summary Request a completion certificate
// @Tags Certificates
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/certificate [post]
func (h *CertificateHandler) Apply(c *gin.Context) {
	cert, err := h.certificates.Apply(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cert)
}

// Status godoc
// @Summary Effective certificate state for an enrollment
// @Tags Certificates
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/certificate [get]
func (h *CertificateHandler) Status(c *gin.Context) {
	status, cert, err := h.certificates.Status(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": status, "certificate": cert}, nil)
}

// History godoc
// @Summary Certificate records and lifecycle events for an enrollment
// @Tags Certificates
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/certificate/history [get]
func (h *CertificateHandler) History(c *gin.Context) {
	history, err := h.certificates.History(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// List godoc
// @Summary Certificate review queue
// @Tags Certificates
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /certificates [get]
func (h *CertificateHandler) List(c *gin.Context) {
	var filter models.CertificateFilter
	filter.EnrollmentID = c.Query("enrollmentId")
	filter.Status = models.CertificateStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	certs, pagination, err := h.certificates.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, certs, pagination)
}

// Decide godoc
// @Summary Issue or reject a pending certificate
// @Tags Certificates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Certificate ID"
// @Param payload body service.DecideRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/decision [put]
func (h *CertificateHandler) Decide(c *gin.Context) {
	var req service.DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	cert, err := h.certificates.Decide(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// Revoke godoc
// @Summary Revoke an issued certificate
// @Tags Certificates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Certificate ID"
// @Param payload body service.RevokeRequest true "Revocation payload"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/revoke [put]
func (h *CertificateHandler) Revoke(c *gin.Context) {
	var req service.RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	cert, err := h.certificates.Revoke(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cert, nil)
}

// DownloadURL godoc
// @Summary Signed download token for an issued certificate
// @Tags Certificates
// @Produce json
// @Security BearerAuth
// @Param id path string true "Certificate ID"
// @Success 200 {object} response.Envelope
// @Router /certificates/{id}/download-url [get]
func (h *CertificateHandler) DownloadURL(c *gin.Context) {
	signed, err := h.certificates.DownloadURL(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, signed, nil)
}

// Download godoc
// @Summary Download a certificate artifact with a signed token
// @Tags Certificates
// @Produce application/pdf
// @Param token query string true "Signed token"
// @Success 200 {file} file "PDF content"
// @Router /certificates/download [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, cert, err := h.certificates.Download(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	filename := cert.ID + ".pdf"
	if cert.SerialNumber != nil {
		filename = *cert.SerialNumber + ".pdf"
	}
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Header("Content-Type", "application/pdf")
	http.ServeContent(c.Writer, c.Request, filename, cert.RequestedAt, file)
}
