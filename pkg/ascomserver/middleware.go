package ascomserver

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Gin context keys holding the transaction IDs of the current request.
const (
	clientTransactionKey = "ClientTransactionID"
	serverTransactionKey = "ServerTransactionID"
)

// LoggingMiddleware logs every request with its status and latency.
// Successful requests are logged at debug level to reduce noise.
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path

		logger.Debug("Incoming request",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()))

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", duration),
		}

		switch {
		case status >= 500:
			logger.Error("Request failed", append(fields, zap.String("error", c.Errors.String()))...)
		case status >= 400:
			logger.Warn("Request returned client error", append(fields, zap.String("error", c.Errors.String()))...)
		default:
			logger.Debug("Request completed", fields...)
		}
	}
}

// CORSMiddleware adds Cross-Origin Resource Sharing headers for browser
// based Alpaca clients and answers preflight requests.
func CORSMiddleware(config CORSConfig) gin.HandlerFunc {
	methods := strings.Join(config.AllowedMethods, ", ")
	headers := strings.Join(config.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(config.MaxAge)

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := ""
		for _, o := range config.AllowedOrigins {
			if o == "*" || o == origin {
				allowed = o
				break
			}
		}

		if allowed != "" {
			if allowed == "*" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			if config.AllowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.Header("Access-Control-Max-Age", maxAge)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// AuthMiddleware enforces HTTP Basic Authentication against a bcrypt
// password hash. It is a pass-through when authentication is disabled.
func AuthMiddleware(config AuthConfig) gin.HandlerFunc {
	hash := []byte(config.PasswordHash)

	return func(c *gin.Context) {
		if !config.Enabled {
			c.Next()
			return
		}

		username, password, ok := c.Request.BasicAuth()
		if ok && username == config.Username {
			ok = bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
		} else {
			ok = false
		}

		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="`+config.Realm+`"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, NewErrorResponse(
				ClientTransactionID(c),
				ServerTransactionID(c),
				ErrorCodeUnspecifiedError,
				"Authentication required"))
			return
		}
		c.Next()
	}
}

// TransactionMiddleware stores the client transaction ID and a fresh
// server transaction ID on the request context.
func TransactionMiddleware(counter *int32) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := formValue(c, "ClientTransactionID")

		clientTxnID := int32(0)
		if raw != "" {
			if v, err := strconv.ParseUint(raw, 10, 31); err == nil {
				clientTxnID = int32(v)
			}
		}

		serverTxnID := atomic.AddInt32(counter, 1)
		if serverTxnID <= 0 || serverTxnID > MaxTransactionID {
			atomic.StoreInt32(counter, 1)
			serverTxnID = 1
		}

		c.Set(clientTransactionKey, clientTxnID)
		c.Set(serverTransactionKey, serverTxnID)
		c.Next()
	}
}

// ErrorHandlerMiddleware converts handler panics into Alpaca error responses.
func ErrorHandlerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered in request handler",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method))

				c.AbortWithStatusJSON(http.StatusInternalServerError, NewErrorResponse(
					ClientTransactionID(c),
					ServerTransactionID(c),
					ErrorCodeUnspecifiedError,
					"Internal server error"))
			}
		}()
		c.Next()
	}
}

// ClientTransactionID returns the client transaction ID of the request, or 0.
func ClientTransactionID(c *gin.Context) int32 {
	return txnID(c, clientTransactionKey)
}

// ServerTransactionID returns the server transaction ID of the request, or 0.
func ServerTransactionID(c *gin.Context) int32 {
	return txnID(c, serverTransactionKey)
}

func txnID(c *gin.Context, key string) int32 {
	if v, ok := c.Get(key); ok {
		if id, ok := v.(int32); ok {
			return id
		}
	}
	return 0
}

// formValue looks a parameter up case-insensitively in the query string
// (GET) or the form body (PUT), as Alpaca requires.
func formValue(c *gin.Context, name string) string {
	if v, ok := lookupFold(c.Request.URL.Query(), name); ok {
		return v
	}
	if c.Request.Method == http.MethodGet {
		return ""
	}
	if err := c.Request.ParseForm(); err != nil {
		return ""
	}
	v, _ := lookupFold(c.Request.PostForm, name)
	return v
}

// FormValue is formValue exported for device handlers.
func FormValue(c *gin.Context, name string) string {
	return formValue(c, name)
}

func lookupFold(values map[string][]string, name string) (string, bool) {
	for k, v := range values {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0], true
		}
	}
	return "", false
}
