package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/darasahq/darasa/core/auth"
	"github.com/darasahq/darasa/core/user"
)

func Test_authApi_login(t *testing.T) {
	app := setup(t)

	teacher := createUser(t, "Teacher", "teacher", "teacher@example.com", "Teacher123!", user.RoleTeacher, true)
	_ = createUser(t, "Gone", "gone", "gone@example.com", "Teacher123!", user.RoleStudent, false)

	loginBody := func(uname, pwd string) []byte {
		return marchallObj(t, LoginRequest{Username: uname, Password: pwd})
	}
	invalidCreds := marchallObj(t, httpErr{Error: "invalid credentials"})

	tests := []httpTest{
		{name: "missing fields", body: loginBody("", ""), wantCode: http.StatusBadRequest},
		{name: "unknown user", body: loginBody("nobody", "Teacher123!"), wantCode: http.StatusUnauthorized, wantData: invalidCreds},
		{name: "wrong password", body: loginBody("teacher", "wrong"), wantCode: http.StatusUnauthorized, wantData: invalidCreds},
		{
			name: "deactivated account", body: loginBody("gone", "Teacher123!"), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/auth/login", tt.body)
			app.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
			}
			if tt.wantData != nil {
				checkCodeAndData(t, tt, rec)
			}
		})
	}

	t.Run("success", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/auth/login", loginBody("teacher", "Teacher123!"))
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("failed! code = %v; want %v; body = %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		var resp LoginResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshalling LoginResponse failed, %v", err)
		}
		if resp.AccessToken == "" || resp.RefreshToken == "" {
			t.Error("incomplete token pair")
		}
		if resp.User.ID != teacher.ID {
			t.Errorf("User.ID = %s, want %s", resp.User.ID, teacher.ID)
		}

		// the issued access token passes the guard
		req, rec = newAuthRequest(http.MethodGet, "/v1/users/"+teacher.ID, resp.AccessToken)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("guard rejected a fresh token: code = %v; body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("lockout", func(t *testing.T) {
		locked := createUser(t, "Locked", "locked", "locked@example.com", "Teacher123!", user.RoleStudent, true)

		for i := 0; i < 5; i++ {
			req, rec := newRequest(http.MethodPost, "/v1/auth/login", loginBody("locked", "wrong"))
			app.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("attempt %d: code = %v; want %v", i+1, rec.Code, http.StatusUnauthorized)
			}
		}

		// correct password is rejected while the window is open
		req, rec := newRequest(http.MethodPost, "/v1/auth/login", loginBody("locked", "Teacher123!"))
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account locked"})}
		checkCodeAndData(t, tt, rec)

		stored, err := usrRepo.GetUserByID(context.Background(), locked.ID)
		if err != nil {
			t.Fatalf("GetUserByID() failed, %v", err)
		}
		if !stored.IsLocked(time.Now().UTC()) {
			t.Error("account not locked after max failed attempts")
		}
	})
}

func Test_authApi_refreshToken(t *testing.T) {
	app := setup(t)

	_ = createUser(t, "Teacher", "teacher", "teacher@example.com", "Teacher123!", user.RoleTeacher, true)

	login := func(t *testing.T) LoginResponse {
		t.Helper()
		body := marchallObj(t, LoginRequest{Username: "teacher", Password: "Teacher123!"})
		req, rec := newRequest(http.MethodPost, "/v1/auth/login", body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("login failed: code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var resp LoginResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshalling LoginResponse failed, %v", err)
		}
		return resp
	}
	t.Run("rotation and replay", func(t *testing.T) {
		resp := login(t)

		body := marchallObj(t, RefreshRequest{RefreshToken: resp.RefreshToken})
		req, rec := newRequest(http.MethodPost, "/v1/auth/refresh-token", body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("refresh failed: code = %v; body = %s", rec.Code, rec.Body.String())
		}
		var pair auth.TokenPair
		if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
			t.Fatalf("unmarshalling TokenPair failed, %v", err)
		}
		if pair.RefreshToken == resp.RefreshToken {
			t.Error("refresh token was not rotated")
		}

		// replaying the superseded token fails
		req, rec = newRequest(http.MethodPost, "/v1/auth/refresh-token", body)
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "invalid refresh token"})}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("garbage token", func(t *testing.T) {
		body := marchallObj(t, RefreshRequest{RefreshToken: "lol.lmao.rofl"})
		req, rec := newRequest(http.MethodPost, "/v1/auth/refresh-token", body)
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "invalid refresh token"})}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("access token rejected", func(t *testing.T) {
		resp := login(t)

		body := marchallObj(t, RefreshRequest{RefreshToken: resp.AccessToken})
		req, rec := newRequest(http.MethodPost, "/v1/auth/refresh-token", body)
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "invalid refresh token"})}
		checkCodeAndData(t, tt, rec)
	})
}

func Test_authApi_logout(t *testing.T) {
	app := setup(t)

	_ = createUser(t, "Teacher", "teacher", "teacher@example.com", "Teacher123!", user.RoleTeacher, true)

	body := marchallObj(t, LoginRequest{Username: "teacher", Password: "Teacher123!"})
	req, rec := newRequest(http.MethodPost, "/v1/auth/login", body)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: code = %v", rec.Code)
	}
	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshalling LoginResponse failed, %v", err)
	}

	req, rec = newAuthRequest(http.MethodPost, "/v1/auth/logout", resp.AccessToken)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout failed: code = %v; body = %s", rec.Code, rec.Body.String())
	}

	// the refresh chain is dead
	refreshBody := marchallObj(t, RefreshRequest{RefreshToken: resp.RefreshToken})
	req, rec = newRequest(http.MethodPost, "/v1/auth/refresh-token", refreshBody)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("refresh after logout: code = %v; want %v", rec.Code, http.StatusUnauthorized)
	}
}

func Test_guardMiddleware(t *testing.T) {
	app := setup(t)

	teacher := createUser(t, "Teacher", "teacher", "teacher@example.com", "Teacher123!", user.RoleTeacher, true)
	deactivated := createUser(t, "Gone", "gone", "gone@example.com", "Teacher123!", user.RoleStudent, false)

	// a token signed at a past instant, already expired
	expiredConf := testConfig()
	expiredConf.Auth.AccessTokenTTL = -time.Minute
	expiredToken, err := auth.NewTokenManager(expiredConf).IssueAccessToken(teacher)
	if err != nil {
		t.Fatalf("IssueAccessToken() failed, %v", err)
	}

	// a token signed with the wrong secret
	foreignConf := testConfig()
	foreignConf.Auth.AccessTokenSecret = "not-the-secret"
	foreignToken, err := auth.NewTokenManager(foreignConf).IssueAccessToken(teacher)
	if err != nil {
		t.Fatalf("IssueAccessToken() failed, %v", err)
	}

	// a valid token whose account no longer exists
	ghost := createUser(t, "Ghost", "ghost", "ghost@example.com", "Teacher123!", user.RoleStudent, true)
	ghostToken := getToken(t, ghost)
	if err := usrRepo.DeleteUsersByID(context.Background(), ghost.ID); err != nil {
		t.Fatalf("DeleteUsersByID() failed, %v", err)
	}

	path := "/v1/users/" + teacher.ID
	unauthorized := marchallObj(t, errAuthRequired)

	tests := []httpTest{
		{name: "no token", path: path, wantCode: http.StatusUnauthorized, wantData: unauthorized},
		{name: "not a bearer token", path: path, token: "", wantCode: http.StatusUnauthorized, wantData: unauthorized},
		{name: "malformed token", path: path, token: "lol.lmao.rofl", wantCode: http.StatusUnauthorized, wantData: unauthorized},
		{name: "expired token", path: path, token: expiredToken, wantCode: http.StatusUnauthorized, wantData: unauthorized},
		{name: "wrong secret", path: path, token: foreignToken, wantCode: http.StatusUnauthorized, wantData: unauthorized},
		{name: "deleted account", path: path, token: ghostToken, wantCode: http.StatusUnauthorized, wantData: unauthorized},
		{name: "deactivated account", path: path, token: getToken(t, deactivated), wantCode: http.StatusUnauthorized, wantData: unauthorized},
		{name: "refresh token where access expected", path: path, token: refreshTokenFor(t, teacher), wantCode: http.StatusUnauthorized, wantData: unauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func refreshTokenFor(t *testing.T, usr user.User) string {
	t.Helper()

	token, _, err := authSvc.Tokens().IssueRefreshToken(usr)
	if err != nil {
		t.Fatalf("IssueRefreshToken() failed, %v", err)
	}
	return token
}

func Test_requireRoles(t *testing.T) {
	_ = setup(t)

	admin := createUser(t, "Admin", "admin1", "admin@example.com", "", user.RoleAdmin, true)
	teacher := createUser(t, "Teacher", "teacher", "teacher@example.com", "", user.RoleTeacher, true)
	student := createUser(t, "Hero", "hero01", "hero@example.com", "", user.RoleStudent, true)
	parent := createUser(t, "Parent", "parent1", "parent@example.com", "", user.RoleParent, true)

	ok := func(ctx echo.Context) error { return ctx.NoContent(http.StatusOK) }
	guard := guardMiddleware(authSvc.Tokens(), usrSvc)

	e := echo.New()
	e.GET("/staff", ok, guard, requireRoles(user.RoleAdmin, user.RoleTeacher))
	e.GET("/parents", ok, guard, requireRoles(user.RoleParent))
	e.GET("/admin", ok, guard, adminMiddleware())

	tests := []struct {
		name     string
		path     string
		usr      user.User
		wantCode int
	}{
		{name: "staff: admin allowed", path: "/staff", usr: admin, wantCode: http.StatusOK},
		{name: "staff: teacher allowed", path: "/staff", usr: teacher, wantCode: http.StatusOK},
		{name: "staff: student denied", path: "/staff", usr: student, wantCode: http.StatusForbidden},
		{name: "staff: parent denied", path: "/staff", usr: parent, wantCode: http.StatusForbidden},
		{name: "parents: parent allowed", path: "/parents", usr: parent, wantCode: http.StatusOK},
		{name: "parents: admin always allowed", path: "/parents", usr: admin, wantCode: http.StatusOK},
		{name: "parents: teacher denied", path: "/parents", usr: teacher, wantCode: http.StatusForbidden},
		{name: "empty set is admin-only: admin", path: "/admin", usr: admin, wantCode: http.StatusOK},
		{name: "empty set is admin-only: teacher", path: "/admin", usr: teacher, wantCode: http.StatusForbidden},
		{name: "empty set is admin-only: student", path: "/admin", usr: student, wantCode: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, getToken(t, tt.usr))
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
			}
		})
	}
}
