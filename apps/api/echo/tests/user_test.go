package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/bosvoting/apps/api/echo"
	"github.com/trezcool/bosvoting/core/user"
	"github.com/trezcool/bosvoting/tests"
)

func TestUserAPI_Login(t *testing.T) {
	f := setup(t)
	testutil.CreateUser(t, f.usrRepo, "Ina Active", "ina@bos.test", testPassword, []string{user.RoleBOSMember}, false)

	type loginData struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	path := "/v1/users/login"
	tests := []httpTest{
		{
			name:     "missing credentials",
			body:     marshalObj(t, loginData{}),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{
				"email":    "this field is required",
				"password": "this field is required",
			}),
		},
		{
			name:     "unknown email",
			body:     marshalObj(t, loginData{Email: "nobody@bos.test", Password: testPassword}),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: user.ErrInvalidCredentials.Error()}),
		},
		{
			name:     "wrong password",
			body:     marshalObj(t, loginData{Email: f.member.Email, Password: "wrong"}),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, httpErr{Error: user.ErrInvalidCredentials.Error()}),
		},
		{
			name:     "deactivated account",
			body:     marshalObj(t, loginData{Email: "ina@bos.test", Password: testPassword}),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: user.ErrAccountDeactivated.Error()}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, path, "", tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("valid credentials", func(t *testing.T) {
		rec := f.do(http.MethodPost, path, "", marshalObj(t, loginData{Email: " MIKE@bos.test ", Password: testPassword}))
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		var res LoginResponse
		unmarshalBody(t, rec, &res)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, f.member.ID, res.User.ID)
		assert.True(t, t0.Equal(res.User.LastLogin))

		// the token authenticates the next calls
		rec = f.do(http.MethodGet, "/v1/users/me", res.Token)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)
	})
}

func TestUserAPI_Me(t *testing.T) {
	f := setup(t)

	t.Run("missing token", func(t *testing.T) {
		tt := httpTest{wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)}
		rec := f.do(http.MethodGet, "/v1/users/me", "")
		checkCodeAndData(t, tt, rec)
	})

	t.Run("authenticated", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/v1/users/me", f.ctrlToken)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		var usr user.User
		unmarshalBody(t, rec, &usr)
		assert.Equal(t, f.ctrl.ID, usr.ID)
		assert.Equal(t, f.ctrl.Email, usr.Email)
		assert.Equal(t, []string{user.RoleBOSController}, usr.Roles)
	})
}
