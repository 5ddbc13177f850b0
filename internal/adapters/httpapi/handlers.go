package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"herbtrace/internal/blob"
	"herbtrace/internal/core"
	"herbtrace/pkg/domain"
)

type handler struct {
	svc *core.Service
}

// eventRequest is the body of POST /batches/:id/events.
type eventRequest struct {
	EventType        domain.EventType `json:"eventType"`
	Payload          json.RawMessage  `json:"payload,omitempty"`
	ExpectedSequence *int64           `json:"expectedSequence,omitempty"`
}

// tokenResponse carries a token and its QR string.
type tokenResponse struct {
	Token   domain.VerificationToken `json:"token"`
	Encoded string                   `json:"encoded"`
}

func actorID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(headerActorID))
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, domain.Invalid("body", "malformed JSON body: %v", err))
		return false
	}
	return true
}

func (h *handler) createBatch(c *gin.Context) {
	var rec domain.CreationRecord
	if !bindJSON(c, &rec) {
		return
	}
	acc, err := h.svc.CreateBatch(c.Request.Context(), actorID(c), rec)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acc)
}

func (h *handler) listBatches(c *gin.Context) {
	filter := core.BatchFilter{
		State:         domain.State(c.Query("state")),
		CustodianID:   c.Query("custodian"),
		OriginActorID: c.Query("origin"),
	}
	if filter.State != "" && !filter.State.Valid() {
		respondError(c, domain.Invalid("state", "unknown state %q", filter.State))
		return
	}
	batches, err := h.svc.ListBatches(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	if batches == nil {
		batches = []core.Batch{}
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

func (h *handler) getBatch(c *gin.Context) {
	batch, err := h.svc.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (h *handler) submitTransition(c *gin.Context) {
	var body eventRequest
	if !bindJSON(c, &body) {
		return
	}
	acc, err := h.svc.SubmitTransition(c.Request.Context(), core.TransitionRequest{
		BatchID:          c.Param("id"),
		EventType:        body.EventType,
		ActorID:          actorID(c),
		Payload:          body.Payload,
		ExpectedSequence: body.ExpectedSequence,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if acc.Idempotent {
		status = http.StatusOK
	}
	c.JSON(status, acc)
}

func (h *handler) getLedger(c *gin.Context) {
	ledger, err := h.svc.GetLedger(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ledger)
}

func (h *handler) getTimeline(c *gin.Context) {
	timeline, err := h.svc.GetTimeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, timeline)
}

func (h *handler) issueToken(c *gin.Context) {
	token, err := h.svc.IssueToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token, Encoded: token.Encode()})
}

func (h *handler) verifyToken(c *gin.Context) {
	result, err := h.svc.VerifyToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) exportLedger(c *gin.Context) {
	res, err := h.svc.ExportLedger(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h *handler) listExports(c *gin.Context) {
	infos, err := h.svc.ListExports(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if infos == nil {
		infos = []blob.Info{}
	}
	c.JSON(http.StatusOK, gin.H{"exports": infos})
}

func (h *handler) listPlugins(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plugins": h.svc.RegisteredPlugins()})
}
