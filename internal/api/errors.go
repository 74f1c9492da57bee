package api

import (
	"errors"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/models"
	"go.uber.org/zap"
)

// respondError renders err in the shared error shape. Unclassified errors
// are logged with op and answered with a generic 500.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status, body := apperr.Render(err)
	if apperr.As(err) == nil {
		logger.Error(op, zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

// bindJSON decodes the body and answers 400 on failure.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var verrs validator.ValidationErrors
		msg := "invalid request body"
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msg = "invalid field " + verrs[0].Field() + ": " + verrs[0].Tag()
		}
		status, body := apperr.Render(apperr.Validation(msg))
		c.AbortWithStatusJSON(status, body)
		return false
	}
	return true
}

var registerOnce sync.Once

// registerValidators adds the "subdomain" binding tag to gin's validator.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("subdomain", func(fl validator.FieldLevel) bool {
			return models.ValidSubdomain(models.NormalizeSubdomain(fl.Field().String()))
		})
	})
}
