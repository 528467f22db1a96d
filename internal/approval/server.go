package approval

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/loykin/deploypipe/internal/common"
	"github.com/loykin/deploypipe/internal/constants"
)

// VerifyConfig configures bearer JWT verification on the approval endpoints.
type VerifyConfig struct {
	Secret          []byte
	AllowedIssuer   string
	AllowedAudience string
	ClockSkew       time.Duration
}

// TokenConfig describes a token minted for an approver.
type TokenConfig struct {
	Secret   string
	Issuer   string
	Subject  string
	Audience string
	TTL      time.Duration
}

// MintToken issues an HS256 token for an approver. The subject is recorded as the decision actor.
func MintToken(c TokenConfig) (string, error) {
	if c.Secret == "" {
		return "", errors.New("approval: secret required")
	}
	if strings.TrimSpace(c.Subject) == "" {
		return "", errors.New("approval: subject required")
	}
	ttl := c.TTL
	if ttl == 0 {
		ttl = constants.DefaultApprovalTokenTTL
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   c.Subject,
		Issuer:    c.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if c.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.Secret))
}

const claimsKey = "approval.claims"

// JWTMiddleware enforces a Bearer HS256 token and stores its claims on the context.
func JWTMiddleware(cfg VerifyConfig) gin.HandlerFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.AllowedIssuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.AllowedIssuer))
	}
	if cfg.AllowedAudience != "" {
		opts = append(opts, jwt.WithAudience(cfg.AllowedAudience))
	}
	return func(c *gin.Context) {
		if len(cfg.Secret) == 0 {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "jwt secret not configured"})
			return
		}
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			return
		}
		claims := &jwt.RegisteredClaims{}
		tok, err := jwt.ParseWithClaims(strings.TrimSpace(auth[len("Bearer "):]), claims, func(*jwt.Token) (interface{}, error) {
			return cfg.Secret, nil
		}, opts...)
		if err != nil || !tok.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func actorFrom(c *gin.Context) string {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*jwt.RegisteredClaims); ok {
			return claims.Subject
		}
	}
	return ""
}

type decisionBody struct {
	Comment string `json:"comment"`
}

// NewHandler exposes g over HTTP.
//
//	GET  /healthz
//	GET  /approvals
//	GET  /approvals/:id
//	POST /approvals/:id/approve
//	POST /approvals/:id/reject
func NewHandler(g *Gate, cfg VerifyConfig) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := engine.Group("/approvals", JWTMiddleware(cfg))
	api.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pending": g.Pending()})
	})
	api.GET("/:id", func(c *gin.Context) {
		req, ok := g.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "approval request not found"})
			return
		}
		c.JSON(http.StatusOK, req)
	})
	decide := func(approved bool) gin.HandlerFunc {
		return func(c *gin.Context) {
			var body decisionBody
			if c.Request.ContentLength > 0 {
				if err := c.ShouldBindJSON(&body); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
			}
			id := c.Param("id")
			if err := g.Decide(id, approved, actorFrom(c), body.Comment); err != nil {
				if errors.Is(err, ErrUnknownRequest) {
					c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"id": id, "approved": approved})
		}
	}
	api.POST("/:id/approve", decide(true))
	api.POST("/:id/reject", decide(false))
	return engine
}

// Listen binds the approval server address, defaulting to DefaultApprovalAddr.
func Listen(addr string) (net.Listener, error) {
	if addr == "" {
		addr = constants.DefaultApprovalAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("approval server: %w", err)
	}
	return ln, nil
}

// Serve serves h on ln until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		common.GetLogger().WithComponent("approval").Info("approval server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("approval server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
