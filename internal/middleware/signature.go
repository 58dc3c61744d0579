package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vedagro/backend/internal/utils"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the request body
const SignatureHeader = "X-Signature"

const maxEventBody = 1 << 20

// ServiceSignature verifies inbound checkout/KYC events. An empty secret disables the check.
func ServiceSignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBody))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "could not read request body"})
			return
		}
		if !utils.VerifyHMAC(body, c.GetHeader(SignatureHeader), secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}
