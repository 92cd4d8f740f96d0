package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/trezcool/bosvoting/core/user"
	"github.com/trezcool/bosvoting/services/scheduler"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp     = errors.New("help provided")
	errNoSQLDB  = errors.New("migrate: the postgres engine is not configured")
	errPwdMatch = errors.New("passwords do not match")
)

type commandLine struct {
	db       *sql.DB // nil unless the postgres engine is configured
	usrSvc   *user.Service
	validate *validator.Validate
	sched    *scheduler.Scheduler
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run a goose migration command: up, up-by-one, up-to, down, down-to, redo, reset, status, version, fix")
	fmt.Println("  adduser -name NAME -email EMAIL -roles ROLE[,ROLE] - create a user, or reset the password and roles of an existing one")
	fmt.Println("  sweep - run the poll status and closing reminder sweeps once")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserEmail := addUserCmd.String("email", "", "The user's email. The password will be prompted next.")
	addUserRoles := addUserCmd.String("roles", user.RoleBOSMember, "Comma separated roles: "+strings.Join(user.AllRoles, ", "))

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		fmt.Print("Enter password:")
		pwd, err := readPasswordFunc(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addUserCmd.Usage()
			return errHelp
		}
		fmt.Print("Confirm password:")
		pwdConfirm, err := readPasswordFunc(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return err
		}
		if string(pwd) != string(pwdConfirm) {
			return errPwdMatch
		}
		return cli.addUser(*addUserName, *addUserEmail, splitRoles(*addUserRoles), string(pwd))

	case "sweep":
		return cli.sweep()

	default:
		cli.printUsage()
		return errHelp
	}
}

func splitRoles(raw string) []string {
	roles := make([]string, 0)
	for _, role := range strings.Split(raw, ",") {
		if role = strings.ToLower(strings.TrimSpace(role)); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
