package auth

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/Campus-Dev-Team/adminCamperStories/internal/errors"
	"github.com/Campus-Dev-Team/adminCamperStories/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
)

// millisThreshold separates epoch seconds from epoch milliseconds. Any
// value above it is far past year 2286 as seconds, so it must be millis.
const millisThreshold = 1e11

// Grant is a bearer token issued by login or refresh.
type Grant struct {
	Token        string
	ExpiresAt    time.Time
	RefreshToken string
}

// Principal is the identity the backend returned, before role filtering.
type Principal struct {
	User models.UserSnapshot
	Grant
}

// parsePrincipal extracts the user and any issued token from a login or
// validate-session body. The backend is loose about shape: the user may sit
// under "user" or at the top level, and the role may be a numeric role_id,
// a numeric role, or a role name. An empty body, null, or an object with
// no user returns (nil, nil).
func parsePrincipal(body []byte) (*Principal, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed body", apperrors.ErrAPIResponse)
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, nil
	}

	user := root.Get("user")
	if !user.IsObject() {
		if !root.Get("id").Exists() {
			return nil, nil
		}

		user = root
	}

	id := user.Get("id")
	if !id.Exists() {
		return nil, fmt.Errorf("%w: user without id", apperrors.ErrAPIResponse)
	}

	snap := models.UserSnapshot{
		ID:    id.Int(),
		Email: user.Get("email").String(),
	}

	snap.RoleID, snap.Role = resolveRole(user)

	if city := firstOf(user, "city_id", "cityId"); city.Exists() && city.Type != gjson.Null {
		v := city.Int()
		snap.CityID = &v
	}

	for _, p := range user.Get("permissions").Array() {
		snap.Permissions = append(snap.Permissions, p.String())
	}

	g, err := grantFrom(root)
	if err != nil {
		return nil, err
	}

	return &Principal{User: snap, Grant: g}, nil
}

// resolveRole returns the numeric role ID and display name. Numeric
// fields win over names. An unknown name keeps its text with ID 0, which is
// never a recognized role.
func resolveRole(user gjson.Result) (int, string) {
	if r := firstOf(user, "role_id", "roleId"); r.Exists() {
		if id, ok := numericRole(r); ok {
			return id, models.RoleName(id)
		}
	}

	r := user.Get("role")
	if id, ok := numericRole(r); ok {
		return id, models.RoleName(id)
	}

	if r.Type == gjson.String {
		if id, ok := models.RoleIDFromName(r.Str); ok {
			return id, r.Str
		}

		return 0, r.Str
	}

	return 0, models.RoleName(0)
}

func numericRole(r gjson.Result) (int, bool) {
	switch r.Type {
	case gjson.Number:
		return int(r.Int()), true
	case gjson.String:
		if n, err := strconv.Atoi(r.Str); err == nil {
			return n, true
		}
	}

	return 0, false
}

// parseGrant reads a refresh reply: either a bare JSON string token or an
// object carrying it.
func parseGrant(body []byte) (*Grant, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed body", apperrors.ErrAPIResponse)
	}

	root := gjson.ParseBytes(body)

	var (
		g   Grant
		err error
	)

	if root.Type == gjson.String {
		g.Token = root.Str
		g.ExpiresAt = jwtExpiry(g.Token)
	} else {
		g, err = grantFrom(root)
		if err != nil {
			return nil, err
		}
	}

	if g.Token == "" {
		return nil, fmt.Errorf("%w: no token in response", apperrors.ErrAPIResponse)
	}

	return &g, nil
}

// grantFrom reads token, expiry and refresh token fields from an object.
// Expiry falls back to the JWT exp claim.
func grantFrom(root gjson.Result) (Grant, error) {
	g := Grant{
		Token:        firstOf(root, "token", "accessToken", "access_token").String(),
		RefreshToken: firstOf(root, "refreshToken", "refresh_token").String(),
	}

	exp := firstOf(root, "expires_at", "expiresAt", "exp")
	if exp.Exists() && exp.Type != gjson.Null {
		t, err := parseExpiry(exp)
		if err != nil {
			return Grant{}, err
		}

		g.ExpiresAt = t
	}

	if g.ExpiresAt.IsZero() && g.Token != "" {
		g.ExpiresAt = jwtExpiry(g.Token)
	}

	return g, nil
}

// parseExpiry accepts epoch seconds, epoch milliseconds, or RFC 3339.
func parseExpiry(v gjson.Result) (time.Time, error) {
	switch v.Type {
	case gjson.Number:
		n := v.Int()
		if n <= 0 {
			return time.Time{}, nil
		}

		if float64(n) > millisThreshold {
			return time.UnixMilli(n), nil
		}

		return time.Unix(n, 0), nil
	case gjson.String:
		t, err := time.Parse(time.RFC3339, v.Str)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: bad expiry %q", apperrors.ErrAPIResponse, v.Str)
		}

		return t, nil
	}

	return time.Time{}, fmt.Errorf("%w: bad expiry type", apperrors.ErrAPIResponse)
}

// jwtExpiry reads the exp claim without verifying the signature. The
// client never holds the signing key; the backend verifies. Opaque tokens
// yield the zero time.
func jwtExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims

	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}

	return claims.ExpiresAt.Time
}

func firstOf(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}

	return gjson.Result{}
}
