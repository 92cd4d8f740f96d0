package user

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/bosvoting/core"
)

func Test_checkPassword(t *testing.T) {
	tests := []struct {
		name string
		pwd  string
		want string
	}{
		{name: "valid", pwd: "Str0ng!Passw", want: ""},
		{name: "too short", pwd: "S0!a", want: pwdMinLenTag},
		{name: "whitespace", pwd: "Str0ng! Passw", want: pwdNoSpaceTag},
		{name: "all numeric", pwd: "1234567890", want: pwdNotAllNumTag},
		{name: "no upper", pwd: "str0ng!passw", want: pwdComplexityTag},
		{name: "no special", pwd: "Str0ngPassw", want: pwdComplexityTag},
		{name: "no digit", pwd: "Strong!Passw", want: pwdComplexityTag},
		{name: "similar to name", pwd: "Mikeyson1!", want: pwdAttrSimTag},
		{name: "similar to email", pwd: "Mike@bos.T1", want: pwdAttrSimTag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkPassword(tt.pwd, "Mike Tyson", "mike@bos.test"); got != tt.want {
				t.Errorf("checkPassword() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewUser_Validate(t *testing.T) {
	validate, translator := core.NewValidator()
	InitValidators(validate, translator)

	valid := func() NewUser {
		return NewUser{
			Name:            " Mike ",
			Email:           " MIKE@bos.test ",
			Password:        "Str0ng!Passw",
			PasswordConfirm: "Str0ng!Passw",
			Roles:           []string{RoleBOSMember},
		}
	}

	tests := []struct {
		name      string
		modify    func(nu *NewUser)
		wantField string
		wantTag   string
	}{
		{name: "valid"},
		{name: "bad email", modify: func(nu *NewUser) { nu.Email = "mike" }, wantField: "email", wantTag: "email"},
		{name: "no roles", modify: func(nu *NewUser) { nu.Roles = nil }, wantField: "roles", wantTag: "required"},
		{name: "unknown role", modify: func(nu *NewUser) { nu.Roles = []string{"root"} }, wantField: "roles", wantTag: allRolesTag},
		{name: "mismatch", modify: func(nu *NewUser) { nu.PasswordConfirm = "Str0ng!Passx" }, wantField: "password_confirm", wantTag: "eqfield"},
		{
			name:      "weak password",
			modify:    func(nu *NewUser) { nu.Password = "password"; nu.PasswordConfirm = "password" },
			wantField: "password",
			wantTag:   pwdComplexityTag,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nu := valid()
			if tt.modify != nil {
				tt.modify(&nu)
			}
			err := nu.Validate(validate)
			if tt.wantField == "" {
				assert.NoError(t, err)
				assert.Equal(t, "Mike", nu.Name)
				assert.Equal(t, "mike@bos.test", nu.Email)
				return
			}
			vErrs, ok := err.(validator.ValidationErrors)
			if !ok || len(vErrs) != 1 {
				t.Fatalf("Validate() error = %v, want a single %s error", err, tt.wantField)
			}
			assert.Equal(t, tt.wantField, vErrs[0].Field())
			assert.Equal(t, tt.wantTag, vErrs[0].Tag())
		})
	}
}

func TestMaxRole(t *testing.T) {
	assert.Equal(t, RoleBOSController, MaxRole([]string{RoleBOSMember, RoleBOSController}))
	assert.Equal(t, RoleBOSMember, MaxRole([]string{"staff", RoleBOSMember}))
	assert.Equal(t, "", MaxRole(nil))
}

func TestHeldRoles(t *testing.T) {
	assert.Equal(t, AllRoles, HeldRoles([]string{RoleBOSMember, "staff", RoleBOSController}))
	assert.Equal(t, []string{RoleBOSMember}, HeldRoles([]string{RoleBOSMember}))
	assert.Nil(t, HeldRoles([]string{"staff"}))
}
