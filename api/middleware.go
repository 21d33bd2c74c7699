package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/banachtech/riskcube/db"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const (
	authorizationHeaderKey  = "authorization"
	authorizationTypeBearer = "bearer"
	authorizationPrefixKey  = "api_key_prefix"
	prefixLength            = 8
)

// authentication checks the bearer api key against its stored bcrypt hash.
func (server *Server) authentication(c *gin.Context) {
	authorizationHeader := c.GetHeader(authorizationHeaderKey)

	if len(authorizationHeader) == 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errors.New("authorization header is not provided")))
		return
	}

	fields := strings.Fields(authorizationHeader)
	if len(fields) < 2 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errors.New("invalid authorization header format")))
		return
	}

	authorizationType := strings.ToLower(fields[0])
	if authorizationType != authorizationTypeBearer {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(fmt.Errorf("unsupported authorization type: %s", authorizationType)))
		return
	}

	apiKey := fields[1]
	prefix, _, _ := strings.Cut(apiKey, ".")
	if len(prefix) != prefixLength {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errors.New("please input a valid API Key")))
		return
	}

	key, err := server.store.GetAPIKey(c, prefix)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, errorResponse(err))
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse(err))
		return
	}

	if time.Now().After(key.ExpiredAt) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errors.New("api key is expired")))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.Token), []byte(apiKey)); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errors.New("please input a valid API Key")))
		return
	}

	c.Set(authorizationPrefixKey, prefix)
	c.Next()
}

func (server *Server) limiter(prefix string) *rate.Limiter {
	server.mu.Lock()
	defer server.mu.Unlock()
	l, ok := server.limiters[prefix]
	if !ok {
		l = rate.NewLimiter(rate.Limit(server.base.API.RateLimit), server.base.API.Burst)
		server.limiters[prefix] = l
	}
	return l
}

// rateLimit throttles each api key separately.
func (server *Server) rateLimit(c *gin.Context) {
	prefix := c.GetString(authorizationPrefixKey)
	if prefix == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errors.New("authentication error")))
		return
	}
	if !server.limiter(prefix).Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse(errors.New("too many requests")))
		return
	}
	c.Next()
}
