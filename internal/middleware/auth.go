package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"points-service/pkg/common"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ContextMemberID = "member_id"
	ContextRole     = "role"

	RoleMember   = "member"
	RoleOperator = "operator"
)

// Claims is the token shape issued by the identity service. Only verification happens here.
type Claims struct {
	MemberID uint   `json:"member_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

func (v *TokenVerifier) Parse(tokenStr string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.MemberID == 0 {
		return nil, errors.New("token has no member")
	}
	return claims, nil
}

// Sign issues a token for the given member. Used by tests and local tooling.
func (v *TokenVerifier) Sign(memberID uint, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		MemberID: memberID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// RequireAuth resolves the bearer token into a member id on the gin context.
func RequireAuth(v *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenStr, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, common.NewErrorResponse("Missing bearer token", nil, http.StatusUnauthorized))
			return
		}

		claims, err := v.Parse(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, common.NewErrorResponse("Invalid token", nil, http.StatusUnauthorized))
			return
		}

		role := claims.Role
		if role == "" {
			role = RoleMember
		}
		c.Set(ContextMemberID, claims.MemberID)
		c.Set(ContextRole, role)
		c.Next()
	}
}

func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != RoleOperator {
			c.AbortWithStatusJSON(http.StatusForbidden, common.NewErrorResponse("Operator access required", nil, http.StatusForbidden))
			return
		}
		c.Next()
	}
}

// MemberID returns the authenticated member, or 0 when the route is unauthenticated.
func MemberID(c *gin.Context) uint {
	return c.GetUint(ContextMemberID)
}
