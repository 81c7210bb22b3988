package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"pinvault/internal/pv"
)

const timeLayout = "2006-01-02 15:04"

func printCredentials(creds []*pv.Credential, reveal bool) {
	if len(creds) == 0 {
		fmt.Println("No credentials.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSERVICE\tUSERNAME\tWEBSITE\tUPDATED")
	for _, c := range creds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Service, c.Username, c.Website, c.UpdatedAt.Local().Format(timeLayout))
		if reveal {
			fmt.Fprintf(w, "\tpassword: %s\t\t\t\n", c.Password)
		}
	}
	w.Flush()
}

func printCredential(c *pv.Credential) {
	fmt.Printf("Service:  %s\n", c.Service)
	fmt.Printf("Username: %s\n", c.Username)
	fmt.Printf("Password: %s\n", c.Password)
	if c.Website != "" {
		fmt.Printf("Website:  %s\n", c.Website)
	}
	if c.Notes != "" {
		fmt.Printf("Notes:    %s\n", c.Notes)
	}
	fmt.Printf("Created:  %s\n", c.CreatedAt.Local().Format(timeLayout))
	fmt.Printf("Updated:  %s\n", c.UpdatedAt.Local().Format(timeLayout))
}

func printStatus(st pv.SessionStatus) {
	fmt.Printf("State:      %s\n", st.State)
	if st.Attempts > 0 {
		fmt.Printf("Attempts:   %d\n", st.Attempts)
	}
	if !st.LockedUntil.IsZero() {
		fmt.Printf("Locked out: %s remaining\n", time.Until(st.LockedUntil).Round(time.Second))
	}
	if !st.AutoLockDeadline.IsZero() {
		fmt.Printf("Auto-lock:  in %s\n", time.Until(st.AutoLockDeadline).Round(time.Second))
	}
	if st.AutoLockPaused {
		fmt.Println("Auto-lock:  paused")
	}
	fmt.Printf("Biometric:  %t\n", st.BiometricEnabled)
}
