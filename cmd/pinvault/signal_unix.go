//go:build unix

package main

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"pinvault/internal/pv"
)

// watchBackground locks the session when the shell is suspended (Ctrl-Z)
// and reports the return to the foreground. The returned func stops watching.
func watchBackground(s *pv.Session) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGTSTP, unix.SIGCONT)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				switch sig {
				case unix.SIGTSTP:
					s.OnBackground()
					// Catching SIGTSTP suppresses the default stop.
					unix.Kill(os.Getpid(), unix.SIGSTOP)
				case unix.SIGCONT:
					s.OnForeground()
				}
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
