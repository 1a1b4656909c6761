package main

import (
	"context"

	"github.com/darasahq/darasa/core"
)

// unlock clears a user's failed-login counter and lockout window.
func (cli *commandLine) unlock(uname string) error {
	ctx := context.Background()
	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
	if err != nil {
		return err
	}
	_, err = cli.usrRepo.ResetLoginThrottle(ctx, usr.ID, usr.LastLogin)
	return err
}
