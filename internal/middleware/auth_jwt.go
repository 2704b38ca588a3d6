package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"storefront/internal/config"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	CtxOwnerIDKey = "owner_id" // string（JWTのsub）
)

// bearerAuth用のJWT検証ミドルウェア。
// subをそのままカートのオーナーIDとして扱う（中身は解釈しない）。
func AuthJWT(cfg config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			//Authorizationヘッダを取得
			authz := c.Request().Header.Get("Authorization")
			if authz == "" {
				return unauthorized(c)
			}

			//Bearer形式か確認してtokenを抜く
			parts := strings.SplitN(authz, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				return unauthorized(c)
			}
			rawToken := strings.TrimSpace(parts[1])
			if rawToken == "" {
				return unauthorized(c)
			}

			//JWTをパースして検証する（expもここで見る）
			token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
				if t.Method != jwt.SigningMethodHS256 {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || token == nil || !token.Valid {
				return unauthorized(c)
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return unauthorized(c)
			}

			ownerID, err := parseSubject(claims["sub"])
			if err != nil || ownerID == "" {
				return unauthorized(c)
			}

			c.Set(CtxOwnerIDKey, ownerID)
			return next(c)
		}
	}
}

// contextからオーナーIDを取り出す
func OwnerID(c echo.Context) (string, bool) {
	v, ok := c.Get(CtxOwnerIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: "UNAUTHENTICATED"})
}

// subは文字列でも数値でも受ける
func parseSubject(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case float64:
		if t != float64(int64(t)) || t <= 0 {
			return "", errors.New("invalid sub")
		}
		return fmt.Sprintf("%d", int64(t)), nil
	default:
		return "", errors.New("invalid sub")
	}
}
