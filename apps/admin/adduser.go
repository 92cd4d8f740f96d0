package main

import (
	"context"
	"fmt"

	"github.com/trezcool/bosvoting/core/user"
)

// addUser creates a user.User, or resets the password and roles of the one registered with `email`.
func (cli *commandLine) addUser(name, email string, roles []string, pwd string) error {
	nu := user.NewUser{
		Name:            name,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           roles,
	}
	if err := nu.Validate(cli.validate); err != nil {
		return err
	}
	usr, err := cli.usrSvc.Save(context.Background(), nu)
	if err != nil {
		return err
	}
	fmt.Printf("saved %s <%s> %v\n", usr.Name, usr.Email, usr.Roles)
	return nil
}
