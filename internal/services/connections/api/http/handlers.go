package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/services/connections/pairing"
	"github.com/liaizen/coparent/internal/services/connections/request"
)

type requestView struct {
	ID             string     `json:"id"`
	Channel        string     `json:"channel"`
	Status         string     `json:"status"`
	InitiatorID    string     `json:"initiator_id"`
	InitiatorName  string     `json:"initiator_name,omitempty"`
	TargetEmail    string     `json:"target_email,omitempty"`
	ShortCode      string     `json:"short_code,omitempty"`
	CounterpartyID string     `json:"counterparty_id,omitempty"`
	RoomID         string     `json:"room_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

func viewOf(req request.ConnectionRequest) requestView {
	view := requestView{
		ID:             req.ID,
		Channel:        string(req.Channel),
		Status:         string(req.Status),
		InitiatorID:    req.InitiatorID,
		InitiatorName:  req.InitiatorName,
		TargetEmail:    req.TargetEmail,
		ShortCode:      req.ShortCode,
		CounterpartyID: req.CounterpartyID,
		RoomID:         req.RoomID,
		CreatedAt:      req.CreatedAt,
		ExpiresAt:      req.ExpiresAt,
	}
	if !req.ResolvedAt.IsZero() {
		resolved := req.ResolvedAt
		view.ResolvedAt = &resolved
	}
	return view
}

type detailsView struct {
	ID            string    `json:"id"`
	Channel       string    `json:"channel"`
	Status        string    `json:"status"`
	InitiatorID   string    `json:"initiator_id"`
	InitiatorName string    `json:"initiator_name,omitempty"`
	TargetEmail   string    `json:"target_email,omitempty"`
	ShortCode     string    `json:"short_code,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func detailsViewOf(details *pairing.Details) *detailsView {
	if details == nil {
		return nil
	}
	return &detailsView{
		ID:            details.ID,
		Channel:       string(details.Channel),
		Status:        string(details.Status),
		InitiatorID:   details.InitiatorID,
		InitiatorName: details.InitiatorName,
		TargetEmail:   details.TargetEmail,
		ShortCode:     details.ShortCode,
		CreatedAt:     details.CreatedAt,
		ExpiresAt:     details.ExpiresAt,
	}
}

type acceptView struct {
	Request         requestView `json:"request"`
	RoomID          string      `json:"room_id,omitempty"`
	RoomPending     bool        `json:"room_pending"`
	AlreadyAccepted bool        `json:"already_accepted"`
	Mutual          bool        `json:"mutual"`
}

func acceptViewOf(result pairing.AcceptResult) acceptView {
	return acceptView{
		Request:         viewOf(result.Request),
		RoomID:          result.RoomID,
		RoomPending:     result.RoomPending,
		AlreadyAccepted: result.AlreadyAccepted,
		Mutual:          result.Mutual,
	}
}

type createBody struct {
	Channel     string `json:"channel"`
	TargetEmail string `json:"target_email"`
}

type createView struct {
	Request    requestView `json:"request"`
	Token      string      `json:"token,omitempty"`
	ShortCode  string      `json:"short_code,omitempty"`
	InviteURL  string      `json:"invite_url,omitempty"`
	Superseded []string    `json:"superseded,omitempty"`
	Mutual     bool        `json:"mutual"`
	Acceptance *acceptView `json:"acceptance,omitempty"`
}

func (h *handler) create(c *gin.Context) {
	var body createBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, apperrors.Wrap(apperrors.CodeBodyInvalid, "decode create body", err))
		return
	}
	result, err := h.pairing.Create(c.Request.Context(), pairing.CreateInput{
		Initiator:   callerFrom(c),
		Channel:     request.Channel(strings.ToLower(strings.TrimSpace(body.Channel))),
		TargetEmail: body.TargetEmail,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	view := createView{
		Request:    viewOf(result.Request),
		Token:      result.Token,
		ShortCode:  result.ShortCode,
		InviteURL:  result.InviteURL,
		Superseded: result.Superseded,
		Mutual:     result.Mutual,
	}
	if result.Acceptance != nil {
		acceptance := acceptViewOf(*result.Acceptance)
		view.Acceptance = &acceptance
		c.JSON(http.StatusOK, view)
		return
	}
	c.JSON(http.StatusCreated, view)
}

type validateView struct {
	Outcome string       `json:"outcome"`
	Status  string       `json:"status,omitempty"`
	Message string       `json:"message,omitempty"`
	Request *detailsView `json:"request,omitempty"`
}

// identifierFrom reads exactly one of token or code.
func identifierFrom(token, code string) (string, pairing.IdentifierKind, error) {
	token, code = strings.TrimSpace(token), strings.TrimSpace(code)
	switch {
	case token != "" && code != "":
		return "", "", apperrors.New(apperrors.CodeIdentifierKind, "send either token or code")
	case token != "":
		return token, pairing.KindToken, nil
	case code != "":
		return code, pairing.KindCode, nil
	default:
		return "", "", apperrors.New(apperrors.CodeIdentifierRequired, "token or code is required")
	}
}

func (h *handler) validate(c *gin.Context) {
	identifier, kind, err := identifierFrom(c.Query("token"), c.Query("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	result, err := h.pairing.Validate(c.Request.Context(), identifier, kind)
	if err != nil {
		h.respondError(c, err)
		return
	}
	view := validateView{Outcome: string(result.Outcome), Request: detailsViewOf(result.Details)}
	if result.Outcome != pairing.OutcomeValid {
		view.Status = string(result.Status)
		view.Message = localizedMessage(c, result.Err())
		if result.Outcome == pairing.OutcomeNotFound {
			view.Request = nil
		}
	}
	c.JSON(http.StatusOK, view)
}

type acceptBody struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

func (h *handler) accept(c *gin.Context) {
	var body acceptBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, apperrors.Wrap(apperrors.CodeBodyInvalid, "decode accept body", err))
		return
	}
	identifier, kind, err := identifierFrom(body.Token, body.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	result, err := h.pairing.Accept(c.Request.Context(), identifier, kind, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acceptViewOf(result))
}

// declineBody carries the secret for link and code requests. Email
// invitations may send no body.
type declineBody struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

func (h *handler) decline(c *gin.Context) {
	var body declineBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			h.respondError(c, apperrors.Wrap(apperrors.CodeBodyInvalid, "decode decline body", err))
			return
		}
	}
	var proof pairing.Proof
	if strings.TrimSpace(body.Token) != "" || strings.TrimSpace(body.Code) != "" {
		identifier, kind, err := identifierFrom(body.Token, body.Code)
		if err != nil {
			h.respondError(c, err)
			return
		}
		proof = pairing.Proof{Identifier: identifier, Kind: kind}
	}
	declined, err := h.pairing.Decline(c.Request.Context(), c.Param("id"), proof, callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": viewOf(declined)})
}

func (h *handler) cancel(c *gin.Context) {
	canceled, err := h.pairing.Cancel(c.Request.Context(), c.Param("id"), callerFrom(c).AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": viewOf(canceled)})
}

type resendView struct {
	Request   requestView `json:"request"`
	Token     string      `json:"token,omitempty"`
	ShortCode string      `json:"short_code,omitempty"`
	InviteURL string      `json:"invite_url,omitempty"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (h *handler) resend(c *gin.Context) {
	result, err := h.pairing.Resend(c.Request.Context(), c.Param("id"), callerFrom(c).AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resendView{
		Request:   viewOf(result.Request),
		Token:     result.Token,
		ShortCode: result.ShortCode,
		InviteURL: result.InviteURL,
		ExpiresAt: result.ExpiresAt,
	})
}

type auditView struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	ActorID   string            `json:"actor_id"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (h *handler) audit(c *gin.Context) {
	entries, err := h.pairing.History(c.Request.Context(), c.Param("id"), callerFrom(c).AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	views := make([]auditView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, auditView{
			ID:        entry.ID,
			Action:    string(entry.Action),
			ActorID:   entry.ActorID,
			CreatedAt: entry.CreatedAt,
			Metadata:  entry.Metadata,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": views})
}

type statusView struct {
	State     string         `json:"state"`
	PartnerID string         `json:"partner_id,omitempty"`
	RoomID    string         `json:"room_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Sent      []*detailsView `json:"sent,omitempty"`
	Received  []*detailsView `json:"received,omitempty"`
}

func (h *handler) status(c *gin.Context) {
	view, err := h.pairing.Status(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := statusView{
		State:     string(view.State),
		PartnerID: view.PartnerID,
		RoomID:    view.RoomID,
		RequestID: view.RequestID,
	}
	for _, details := range view.Sent {
		out.Sent = append(out.Sent, detailsViewOf(details))
	}
	for _, details := range view.Received {
		out.Received = append(out.Received, detailsViewOf(details))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			h.respondError(c, apperrors.Wrap(apperrors.CodeStorageUnavailable, "health check", err))
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
