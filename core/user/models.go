package user

import (
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/bosvoting/core"
)

// Roles
const (
	// RoleBOSController may create, edit and delete polls, and vote.
	RoleBOSController = "boscontroller"
	// RoleBOSMember may vote.
	RoleBOSMember = "bosmembers"
)

var (
	AllRoles = []string{RoleBOSController, RoleBOSMember}

	rolePriorities = map[string]int{
		RoleBOSController: 20,
		RoleBOSMember:     10,
	}

	Roles = []Role{
		{Name: "BOS Controller", Value: RoleBOSController},
		{Name: "BOS Member", Value: RoleBOSMember},
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

// MaxRole returns the role with the highest priority in `roles` ("" if none is known).
// HeldRoles returns the known roles among `roles`, in AllRoles order.
func HeldRoles(roles []string) []string {
	var held []string
	for _, role := range AllRoles {
		if core.ContainsString(roles, role) {
			held = append(held, role)
		}
	}
	return held
}

func MaxRole(roles []string) string {
	var max string
	for _, role := range roles {
		if RolePriority(role) > RolePriority(max) {
			max = role
		}
	}
	return max
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	IsActive     bool      `json:"is_active"`
	Roles        []string  `json:"roles"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
	LastLogin    time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u User) HasRole(role string) bool {
	return core.ContainsString(u.Roles, role)
}

// BOSRole is the role the user acts with inside the BOS: their highest priority role.
func (u User) BOSRole() string {
	return MaxRole(u.Roles)
}

func (u User) IsController() bool {
	return u.HasRole(RoleBOSController)
}

func (u User) Address() mail.Address {
	return mail.Address{Name: u.Name, Address: u.Email}
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Name            string   `json:"name" validate:"required,notblank"`
	Email           string   `json:"email" validate:"required,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"required,min=1,allroles"`
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	return validate.Struct(nu)
}

// LoginRequest holds the credentials exchanged for a token.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}
