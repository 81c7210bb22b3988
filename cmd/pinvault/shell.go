package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"pinvault/internal/app"
	"pinvault/internal/pv"
)

const shellHelp = `Commands:
  list [FILTER]   list credentials, optionally filtered
  show ID         show one credential with its password
  add             add a credential
  edit ID         edit a credential
  rm ID           delete a credential
  lock            lock now
  status          show lock state
  help            show this help
  quit            lock and exit`

// runShell reads commands until EOF or quit. Every command counts as
// activity; prompts for add and edit pause auto-lock while the user types.
func runShell(ctx context.Context, a *app.PVApp) error {
	s := a.Session()
	stop := s.Subscribe(func(tr pv.Transition) {
		switch tr.Reason {
		case pv.ReasonTimeout:
			fmt.Fprintln(os.Stderr, "\nLocked after inactivity.")
		case pv.ReasonBackground:
			fmt.Fprintln(os.Stderr, "\nLocked.")
		}
	})
	defer stop()
	defer watchBackground(s)()

	if err := unlock(ctx, a, readPIN); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Unlocked. Type 'help' for commands.")

	for {
		line, err := readLine("pinvault> ")
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(os.Stderr)
			return nil
		}
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "quit", "exit":
			return nil
		case "help":
			fmt.Println(shellHelp)
			continue
		case "status":
			printStatus(a.Status())
			continue
		case "lock":
			a.Lock()
			continue
		}

		if !s.IsUnlocked() {
			if err := unlock(ctx, a, readPIN); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
		}
		s.NotifyActivity()

		if err := runShellCommand(ctx, a, cmd, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func runShellCommand(ctx context.Context, a *app.PVApp, cmd string, args []string) error {
	s := a.Session()
	switch cmd {
	case "list", "ls":
		creds, err := a.List(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		printCredentials(creds, false)

	case "show":
		if len(args) != 1 {
			return errors.New("usage: show ID")
		}
		c, err := a.Get(ctx, args[0])
		if err != nil {
			return err
		}
		printCredential(c)

	case "add":
		s.PauseAutoLock()
		in, err := promptCredential()
		s.ResumeAutoLock()
		if err != nil {
			return err
		}
		c, err := a.Add(ctx, in)
		if err != nil {
			return err
		}
		fmt.Printf("Added %s (%s)\n", c.Service, c.ID)

	case "edit":
		if len(args) != 1 {
			return errors.New("usage: edit ID")
		}
		cur, err := a.Get(ctx, args[0])
		if err != nil {
			return err
		}
		s.PauseAutoLock()
		patch, err := promptPatch(cur)
		s.ResumeAutoLock()
		if err != nil {
			return err
		}
		if _, err := a.Edit(ctx, cur.ID, patch); err != nil {
			return err
		}
		fmt.Println("Updated.")

	case "rm":
		if len(args) != 1 {
			return errors.New("usage: rm ID")
		}
		ok, err := confirm("Delete "+args[0]+"? [y/N] ", "y")
		if err != nil || !ok {
			return err
		}
		if err := a.Remove(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Deleted.")

	default:
		return fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
	return nil
}
