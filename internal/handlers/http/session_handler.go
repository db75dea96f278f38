package http

import (
	"errors"
	"net/http"
	"time"

	"audiorelay/internal/core/domain"
	"audiorelay/internal/core/ports"
	apperrors "audiorelay/pkg/errors"
	"audiorelay/pkg/logger"
	"audiorelay/pkg/validation"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	service ports.NegotiationService
}

func NewSessionHandler(service ports.NegotiationService) *SessionHandler {
	return &SessionHandler{service: service}
}

var _ ports.SignalingHandler = (*SessionHandler)(nil)

func (h *SessionHandler) SetupRoutes(router gin.IRouter) {
	router.POST("/producer", h.CreateProducer)
	router.GET("/producer/:uuid", h.GetProducer)
	router.DELETE("/producer/:uuid", h.DestroyProducer)
	router.DELETE("/producer/:uuid/consumer/:consumer", h.RemoveConsumer)
	router.POST("/consumer", h.CreateConsumer)
}

type producerRequest struct {
	SDP string `json:"sdp" binding:"required"`
}

type consumerRequest struct {
	UUID string `json:"uuid" binding:"required"`
	SDP  string `json:"sdp" binding:"required"`
}

type sessionResponse struct {
	UUID string `json:"uuid"`
	SDP  string `json:"sdp"`
}

type producerResponse struct {
	UUID      string    `json:"uuid"`
	Codec     string    `json:"codec"`
	Consumers []string  `json:"consumers"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *SessionHandler) CreateProducer(c *gin.Context) {
	var req producerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("request body must be {sdp}").WithContext("reason", err.Error()))
		return
	}
	if err := validation.ValidateOffer(req.SDP); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	answer, err := h.service.CreateProducer(c.Request.Context(), req.SDP)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse{UUID: answer.ID, SDP: answer.SDP})
}

func (h *SessionHandler) CreateConsumer(c *gin.Context) {
	var req consumerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("request body must be {uuid, sdp}").WithContext("reason", err.Error()))
		return
	}
	if err := validation.ValidateSessionID(req.UUID, "uuid"); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateOffer(req.SDP); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	ctx := logger.ContextWithProducerID(c.Request.Context(), req.UUID)
	answer, err := h.service.CreateConsumer(ctx, domain.ProducerID(req.UUID), req.SDP)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionResponse{UUID: answer.ID, SDP: answer.SDP})
}

func (h *SessionHandler) GetProducer(c *gin.Context) {
	id := domain.ProducerID(c.Param("uuid"))

	info, err := h.service.GetProducer(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	consumers := make([]string, 0, len(info.Consumers))
	for _, cid := range info.Consumers {
		consumers = append(consumers, string(cid))
	}
	c.JSON(http.StatusOK, producerResponse{
		UUID:      string(info.ID),
		Codec:     info.Codec,
		Consumers: consumers,
		CreatedAt: info.CreatedAt,
	})
}

func (h *SessionHandler) DestroyProducer(c *gin.Context) {
	id := domain.ProducerID(c.Param("uuid"))

	if err := h.service.DestroyProducer(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveConsumer always answers 204: leaving twice is not an error.
func (h *SessionHandler) RemoveConsumer(c *gin.Context) {
	producerID := domain.ProducerID(c.Param("uuid"))
	consumerID := domain.ConsumerID(c.Param("consumer"))

	if err := h.service.RemoveConsumer(c.Request.Context(), producerID, consumerID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail translates orchestrator errors. An unknown producer is answered
// with a bare null so clients can tell it apart from a rejected offer.
func (h *SessionHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrProducerNotFound) {
		c.Error(apperrors.NewNotFoundError("producer"))
		c.JSON(http.StatusNotFound, nil)
		return
	}

	c.Error(toAppError(err))
}

func toAppError(err error) *apperrors.AppError {
	var negotiation *domain.NegotiationError
	switch {
	case errors.As(err, &negotiation):
		return apperrors.NewNegotiationError(err).WithContext("element", negotiation.Element)
	case errors.Is(err, domain.ErrMissingAudioOffer), errors.Is(err, domain.ErrNegotiationCodec):
		return apperrors.NewNegotiationError(err)
	case errors.Is(err, domain.ErrProducerStreamMissing):
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "producer is not streaming", http.StatusInternalServerError)
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "session could not be established", http.StatusInternalServerError)
	}
}
