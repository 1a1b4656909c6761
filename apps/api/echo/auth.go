package echoapi

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/auth"
	"github.com/darasahq/darasa/core/user"
)

var (
	contextClaimsKey = "userClaims"
	contextUserKey   = "user"
)

// guardMiddleware authenticates requests on protected routes. It verifies
// the bearer access token, then reloads the live account: the token's role
// claim is only a hint, the stored record decides. Any failure is a uniform
// 401 so a probing client learns nothing about which check tripped.
func guardMiddleware(tokens *auth.TokenManager, usrSvc *user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			raw, ok := extractBearerToken(ctx)
			if !ok {
				return errUnauthorized
			}
			claims, err := tokens.VerifyAccessToken(raw)
			if err != nil {
				return errUnauthorized
			}

			usr, err := usrSvc.GetByID(ctx.Request().Context(), claims.Subject)
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					return errUnauthorized
				}
				return errors.Wrap(err, "finding user by ID")
			}
			if !usr.IsActive {
				return errUnauthorized
			}

			ctx.Set(contextClaimsKey, *claims)
			ctx.Set(contextUserKey, usr)
			return next(ctx)
		}
	}
}

func extractBearerToken(ctx echo.Context) (string, bool) {
	header := ctx.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func getContextClaims(ctx echo.Context) (auth.Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(auth.Claims); ok {
		return claims, nil
	}
	return auth.Claims{}, errUnauthorized
}

func getContextUser(ctx echo.Context) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}
	return user.User{}, errUnauthorized
}

// requireRoles authorizes the authenticated account against the given role
// set. Admin passes regardless; an empty set is admin-only.
func requireRoles(roles ...user.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx)
			if err != nil {
				return err
			}
			if usr.IsAdmin() {
				return next(ctx)
			}
			for _, role := range roles {
				if usr.Role == role {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return requireRoles()
}

type authApi struct {
	svc      *auth.Service
	validate *validator.Validate
}

func registerAuthAPI(g *echo.Group, guard echo.MiddlewareFunc, svc *auth.Service, validate *validator.Validate) {
	api := authApi{svc: svc, validate: validate}

	ag := g.Group("/auth")
	ag.POST("/login", api.login)
	ag.POST("/refresh-token", api.refreshToken)
	ag.POST("/logout", api.logout, guard)
}

// Handlers

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, pair, err := api.svc.Login(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, LoginResponse{User: usr, TokenPair: pair})
}

func (api *authApi) refreshToken(ctx echo.Context) error {
	var data RefreshRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RefreshRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	_, pair, err := api.svc.Refresh(ctx.Request().Context(), data.RefreshToken)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, pair)
}

func (api *authApi) logout(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Logout(ctx.Request().Context(), usr.ID); err != nil {
		return errors.Wrap(err, "logging out")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		User user.User `json:"user"`
		auth.TokenPair
	}

	RefreshRequest struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}
