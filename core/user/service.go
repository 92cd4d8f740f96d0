package user

import (
	"context"
	"errors"
	"net/mail"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/bosvoting/core"
)

var (
	// errors
	ErrNotFound           = errors.New("user not found")
	ErrEmailExists        = errors.New("a user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account deactivated")
)

type (
	Repository interface {
		// CreateUser stores a new User and returns ErrEmailExists if the email is taken.
		CreateUser(ctx context.Context, usr User) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		// QueryUsersByRoles returns the active users holding at least one of `roles`.
		QueryUsersByRoles(ctx context.Context, roles []string) ([]User, error)
		SetLastLogin(ctx context.Context, id string, at time.Time) error
	}

	Service struct {
		repo    Repository
		NowFunc func() time.Time // mockable
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo, NowFunc: time.Now}
}

func (svc *Service) now() time.Time {
	return svc.NowFunc().UTC()
}

func (svc *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := svc.now()
	usr := User{
		Name:      nu.Name,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, pkgerrors.Wrap(err, "hashing password")
	}
	usr, err := svc.repo.CreateUser(ctx, usr)
	if err == ErrEmailExists {
		return User{}, core.NewValidationError(err, core.FieldError{Field: "email", Error: err.Error()})
	}
	return usr, err
}

// Save creates the User described by `nu`, or resets the password and roles of the User
// already registered under that email.
func (svc *Service) Save(ctx context.Context, nu NewUser) (User, error) {
	usr, err := svc.repo.GetUserByEmail(ctx, nu.Email)
	if err == ErrNotFound {
		return svc.Create(ctx, nu)
	}
	if err != nil {
		return User{}, pkgerrors.Wrap(err, "finding user by email")
	}

	usr.Name = nu.Name
	usr.Roles = nu.Roles
	usr.IsActive = true
	usr.UpdatedAt = svc.now()
	if err = usr.SetPassword(nu.Password); err != nil {
		return User{}, pkgerrors.Wrap(err, "hashing password")
	}
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *Service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

// Authenticate checks the credentials of an active User and records the login time.
func (svc *Service) Authenticate(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
	if err != nil {
		if err == ErrNotFound {
			return User{}, ErrInvalidCredentials
		}
		return User{}, pkgerrors.Wrap(err, "finding user by email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrInvalidCredentials
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}

	usr.LastLogin = svc.now()
	if err = svc.repo.SetLastLogin(ctx, usr.ID, usr.LastLogin); err != nil {
		return User{}, pkgerrors.Wrap(err, "setting last login")
	}
	return usr, nil
}

// Recipients returns the addresses of the active users holding at least one of `roles`.
func (svc *Service) Recipients(ctx context.Context, roles []string) ([]mail.Address, error) {
	users, err := svc.repo.QueryUsersByRoles(ctx, roles)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "querying users by roles")
	}
	addrs := make([]mail.Address, 0, len(users))
	for _, usr := range users {
		if usr.Email != "" {
			addrs = append(addrs, usr.Address())
		}
	}
	return addrs, nil
}

// Voters returns the active users holding at least one of `roles`.
func (svc *Service) Voters(ctx context.Context, roles []string) ([]User, error) {
	users, err := svc.repo.QueryUsersByRoles(ctx, roles)
	return users, pkgerrors.Wrap(err, "querying users by roles")
}
