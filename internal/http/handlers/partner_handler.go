// Partner HTTP handlers.
//
// This file exposes REST endpoints for the partner link:
//   - POST   /partner/link     (link two users, symmetric)
//   - DELETE /partner/link     (unlink, symmetric)
//   - PUT    /partner/sharing  (toggle the routine data-sharing opt-in)
//   - GET    /partner/summary  (privacy-gated treatment context of the partner)
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-companion-backend/internal/services"
)

//
// DTOs
//

// LinkPartnerRequest is the JSON payload for creating a partner link.
type LinkPartnerRequest struct {
	// PartnerID identifies the user to link with.
	PartnerID string `json:"partner_id" binding:"required" example:"user456"`
}

// SetSharingRequest is the JSON payload for the sharing opt-in toggle.
type SetSharingRequest struct {
	// Enabled turns routine data sharing with the linked partner on or off.
	Enabled *bool `json:"enabled" binding:"required" example:"true"`
}

//
// Handlers
//

// LinkPartner godoc
// @ID          linkPartner
// @Summary     Link with a partner
// @Description Creates a symmetric partner link between the current user and
// @Description partner_id. Both users must exist and be unlinked.
// @Tags        Partner
// @Accept      json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.LinkPartnerRequest  true  "Partner to link"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request or self link"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Failure     409  {object} handlers.ErrorResponse "Either user already linked"
// @Router      /partner/link [post]
func (h *Handlers) LinkPartner(c *gin.Context) {
	var req LinkPartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PartnerID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "partner_id required")
		return
	}

	err := h.partnerSvc.Link(c.Request.Context(), userID(c), strings.TrimSpace(req.PartnerID))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSelfLink):
			fail(c, http.StatusBadRequest, ErrCodeSelfLink, "cannot link to yourself")
		case errors.Is(err, services.ErrUserNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
		case errors.Is(err, services.ErrAlreadyLinked):
			fail(c, http.StatusConflict, ErrCodeAlreadyLinked, "user already has a partner")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// UnlinkPartner godoc
// @ID          unlinkPartner
// @Summary     Remove the partner link
// @Description Severs the current user's partner link from both sides.
// @Tags        Partner
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "User not found or not linked"
// @Router      /partner/link [delete]
func (h *Handlers) UnlinkPartner(c *gin.Context) {
	err := h.partnerSvc.Unlink(c.Request.Context(), userID(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUserNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
		case errors.Is(err, services.ErrNotLinked):
			fail(c, http.StatusNotFound, ErrCodeNotLinked, "no partner link")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// SetSharing godoc
// @ID          setSharing
// @Summary     Toggle partner data sharing
// @Description Turns the current user's routine data-sharing opt-in on or off.
// @Description This gates the partner summary only; distress escalations are
// @Description always delivered.
// @Tags        Partner
// @Accept      json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.SetSharingRequest  true  "Opt-in value"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /partner/sharing [put]
func (h *Handlers) SetSharing(c *gin.Context) {
	var req SetSharingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "enabled required")
		return
	}

	if err := h.partnerSvc.SetSharing(c.Request.Context(), userID(c), *req.Enabled); err != nil {
		switch {
		case errors.Is(err, services.ErrUserNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// PartnerSummary godoc
// @ID          partnerSummary
// @Summary     View the linked partner's treatment context
// @Description Returns the partner's cycle day, stage, and active medications.
// @Description Available only when that partner has sharing enabled.
// @Tags        Partner
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object} services.PartnerSummary
// @Failure     403  {object} handlers.ErrorResponse "Partner has sharing disabled"
// @Failure     404  {object} handlers.ErrorResponse "User not found or not linked"
// @Router      /partner/summary [get]
func (h *Handlers) PartnerSummary(c *gin.Context) {
	sum, err := h.partnerSvc.Summary(c.Request.Context(), userID(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUserNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
		case errors.Is(err, services.ErrNotLinked):
			fail(c, http.StatusNotFound, ErrCodeNotLinked, "no partner link")
		case errors.Is(err, services.ErrSharingDisabled):
			fail(c, http.StatusForbidden, ErrCodeSharingDisabled, "partner has sharing disabled")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, sum)
}
