package main

import (
	"context"
	"fmt"
)

// sweep runs both scheduler sweeps once.
func (cli *commandLine) sweep() error {
	ctx := context.Background()

	activated, completed, err := cli.sched.SweepStatuses(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("polls activated: %d, completed: %d\n", activated, completed)

	reminded, err := cli.sched.SweepDeadlines(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("closing reminders queued: %d\n", reminded)
	return nil
}
