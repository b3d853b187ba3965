package auth

import (
	"fmt"
	"sort"

	apperrors "github.com/Campus-Dev-Team/adminCamperStories/internal/errors"
	"github.com/tidwall/gjson"
)

// LoginError is a rejected login. It matches ErrInvalidCredentials and
// carries the server message plus any per-field validation errors.
type LoginError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *LoginError) Error() string {
	if e.Message == "" {
		return apperrors.ErrInvalidCredentials.Error()
	}

	return fmt.Sprintf("%s: %s", apperrors.ErrInvalidCredentials, e.Message)
}

func (e *LoginError) Unwrap() error { return apperrors.ErrInvalidCredentials }

// FieldNames returns the fields with validation errors, sorted.
func (e *LoginError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}

// newLoginError reads "message" and "errors" from a rejected login body.
// errors may be an object of field -> message or an array of
// {path|field|param, msg|message}.
func newLoginError(status int, body []byte) *LoginError {
	le := &LoginError{Status: status}
	if !gjson.ValidBytes(body) {
		return le
	}

	root := gjson.ParseBytes(body)
	le.Message = firstOf(root, "message", "error").String()

	errs := root.Get("errors")
	switch {
	case errs.IsObject():
		le.Fields = make(map[string]string)
		errs.ForEach(func(k, v gjson.Result) bool {
			le.Fields[k.String()] = v.String()
			return true
		})
	case errs.IsArray():
		le.Fields = make(map[string]string)
		for _, item := range errs.Array() {
			field := firstOf(item, "path", "field", "param").String()
			if field == "" {
				continue
			}

			le.Fields[field] = firstOf(item, "msg", "message").String()
		}
	}

	return le
}

// RoleError is a successful authentication whose role may not use the
// admin dashboard. RedirectURL points at the front end for that role.
type RoleError struct {
	RoleID      int
	Role        string
	RedirectURL string
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("%s: %s", apperrors.ErrUnauthorizedRole, e.Role)
}

func (e *RoleError) Unwrap() error { return apperrors.ErrUnauthorizedRole }
