package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tripwise/relay/internal/models"
	"github.com/tripwise/relay/internal/normalize"
	"github.com/tripwise/relay/internal/prompt"
	"github.com/tripwise/relay/internal/upstream"
	"go.uber.org/zap"
)

type replyMode int

const (
	// replyText returns the model text verbatim under "reply"
	replyText replyMode = iota
	// replyItinerary returns the model text as the body once it parses as an itinerary
	replyItinerary
)

// route is one planning endpoint: which prompt to build, how to shape the
// reply, and what to tell the caller when anything past validation fails.
type route struct {
	name    string
	builder *prompt.Builder
	reply   replyMode
	failure string
}

// handle runs the shared pipeline: decode, validate, build, send, normalize.
func (s *Server) handle(rt route) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := s.requestLogger(c).With(
			zap.String("route", rt.name),
			zap.String("builder", rt.builder.Name()))

		var in models.PlanRequest
		if err := c.ShouldBindJSON(&in); err != nil && !errors.Is(err, io.EOF) {
			log.Info("Rejected malformed request body", zap.Error(err))
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
			return
		}

		req, err := rt.builder.Build(in)
		if err != nil {
			var verr *prompt.ValidationError
			if errors.As(err, &verr) {
				log.Info("Rejected invalid request", zap.String("field", verr.Field))
				c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: verr.Message})
				return
			}
			s.fail(c, log, rt, err)
			return
		}

		resp, err := s.upstream.Send(c.Request.Context(), req)
		if err != nil {
			s.fail(c, log, rt, err)
			return
		}

		text, err := normalize.Extract(resp)
		if err != nil {
			s.fail(c, log, rt, err)
			return
		}

		if rt.reply == replyText {
			c.JSON(http.StatusOK, models.ChatReply{Reply: text})
			return
		}

		doc, err := normalize.ParseItinerary(text)
		if err != nil {
			var perr *normalize.ParseError
			if !errors.As(err, &perr) {
				s.fail(c, log, rt, err)
				return
			}
			s.metrics.ObserveParseFailure(rt.name, perr.Reason)
			log.Error("Failed to parse AI response as JSON",
				zap.String("reason", perr.Reason),
				zap.String("raw", perr.Raw))
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: perr.Message, Raw: perr.Raw})
			return
		}

		c.Data(http.StatusOK, "application/json; charset=utf-8", doc)
	}
}

// fail logs err with whatever upstream detail it carries and replies with
// the route's fixed message.
func (s *Server) fail(c *gin.Context, log *zap.Logger, rt route, err error) {
	fields := []zap.Field{zap.Error(err)}

	var uerr *upstream.Error
	if errors.As(err, &uerr) {
		fields = append(fields,
			zap.String("kind", string(uerr.Kind)),
			zap.Int("upstream_status", uerr.StatusCode),
			zap.String("provider_message", uerr.Message))
		if uerr.Code != "" {
			fields = append(fields, zap.String("provider_code", uerr.Code))
		}
		if uerr.Body != "" {
			fields = append(fields, zap.String("provider_body", uerr.Body))
		}
	}

	if uerr != nil && uerr.Kind == upstream.KindCanceled {
		log.Warn("AI request canceled by client", fields...)
	} else {
		log.Error("AI request failed", fields...)
	}

	c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: rt.failure})
}
