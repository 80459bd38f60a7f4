package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/liaizen/coparent/internal/platform/errors"
	"github.com/liaizen/coparent/internal/platform/errors/i18n"
	"github.com/liaizen/coparent/internal/platform/requestctx"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// respondError writes err as a localized error body. Internal details are
// logged, never returned.
func (h *handler) respondError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	status := code.HTTPStatus()
	tag := i18n.ResolveTag(c.GetHeader("Accept-Language"))

	detail := errorDetail{Code: string(code), Message: i18n.Message(tag, string(code))}
	var domainErr *apperrors.Error
	if status < http.StatusInternalServerError && errors.As(err, &domainErr) {
		detail.Metadata = domainErr.Metadata
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request error", append(requestctx.Fields(c.Request.Context()),
			zap.String("code", string(code)),
			zap.Error(err),
		)...)
	}
	_ = c.Error(err)
	c.JSON(status, errorBody{Error: detail})
}

func (h *handler) abort(c *gin.Context, err error) {
	h.respondError(c, err)
	c.Abort()
}

func localizedMessage(c *gin.Context, err error) string {
	if err == nil {
		return ""
	}
	return i18n.Message(i18n.ResolveTag(c.GetHeader("Accept-Language")), string(apperrors.CodeOf(err)))
}
