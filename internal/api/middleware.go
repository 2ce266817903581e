package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/Martian-dev/mailsync/internal/auth"
)

const operatorKey = "operator"

func authMiddleware(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		op, err := v.OperatorFromRequest(c.Request)
		if err != nil {
			log.WithError(err).Debug("rejected API request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(operatorKey, op)
		c.Next()
	}
}

// OperatorFrom returns the authenticated operator of the request, if any
func OperatorFrom(c *gin.Context) (*auth.Operator, bool) {
	v, ok := c.Get(operatorKey)
	if !ok {
		return nil, false
	}
	op, ok := v.(*auth.Operator)
	return op, ok
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start),
		}).Debug("api request")
	}
}
