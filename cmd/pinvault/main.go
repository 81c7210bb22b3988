package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pinvault/internal/app"
	"pinvault/internal/config"
	"pinvault/internal/pv"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a PVApp. The caller must defer app.Close().
// command identifies the CLI command being run.
func newApp(command string) (*app.PVApp, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config (run `pinvault config init` first?): %w", err)
	}

	a, err := app.NewPVApp(cfg, command)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// unlockedApp creates a PVApp and unlocks it interactively.
func unlockedApp(ctx context.Context, command string) (*app.PVApp, error) {
	a, err := newApp(command)
	if err != nil {
		return nil, err
	}
	if err := unlock(ctx, a, readPIN); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// unlock tries biometric unlock when enabled, then falls back to the PIN
// until it matches or the session locks out. A session already locked out
// is reported without prompting.
func unlock(ctx context.Context, a *app.PVApp, pinReader func(prompt string) (string, error)) error {
	st := a.Status()
	switch st.State {
	case pv.StateUnlocked:
		return nil
	case pv.StateNeedsSetup:
		return errors.New("no master PIN yet: run `pinvault setup`")
	case pv.StateLockedOut:
		return lockedOut(st.LockedUntil)
	}

	if st.BiometricEnabled && st.State == pv.StateLocked {
		err := a.UnlockBiometric(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, &pv.BiometricError{Kind: pv.BiometricCancelled}) {
			fmt.Fprintf(os.Stderr, "Biometric unlock failed: %v\n", err)
		}
	}

	for {
		pin, err := pinReader("PIN: ")
		if err != nil {
			return err
		}
		err = a.Unlock(ctx, pin)
		var ae *pv.AuthError
		switch {
		case err == nil:
			return nil
		case errors.As(err, &ae) && ae.Kind == pv.AuthMismatch:
			fmt.Fprintf(os.Stderr, "Incorrect PIN (attempt %d).\n", ae.Attempt)
		case errors.As(err, &ae) && ae.Kind == pv.AuthTooManyAttempts:
			return lockedOut(ae.Until)
		default:
			return err
		}
	}
}

func lockedOut(until time.Time) error {
	return fmt.Errorf("too many attempts, try again in %s", time.Until(until).Round(time.Second))
}

var rootCmd = &cobra.Command{
	Use:          "pinvault",
	Short:        "Local PIN-protected credential vault",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(paths.BaseDir)
		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(paths.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", paths.ConfigPath)
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("Secret Store:  %s\n", cfg.SecretStore.Type)
		fmt.Printf("Database:      %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Auto-lock:     %s\n", cfg.Session.AutoLock)
		fmt.Printf("Max Attempts:  %d\n", cfg.Session.MaxAttempts)
		fmt.Printf("Lockout:       %s\n", cfg.Session.LockoutCooldown)
		fmt.Printf("Biometric:     %s\n", cfg.Biometric.Type)
		return nil
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the master PIN",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("setup")
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Status().State != pv.StateNeedsSetup {
			return pv.ErrAlreadySetUp
		}
		pin, err := readNewPIN()
		if err != nil {
			return err
		}
		if err := a.Setup(pin); err != nil {
			return err
		}
		fmt.Println("Master PIN created.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lock state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("status")
		if err != nil {
			return err
		}
		defer a.Close()
		printStatus(a.Status())
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("filter")
		reveal, _ := cmd.Flags().GetBool("reveal")

		a, err := unlockedApp(cmd.Context(), "list")
		if err != nil {
			return err
		}
		defer a.Close()

		creds, err := a.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		printCredentials(creds, reveal)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one credential, including its password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := unlockedApp(cmd.Context(), "show")
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printCredential(c)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := unlockedApp(cmd.Context(), "add")
		if err != nil {
			return err
		}
		defer a.Close()

		a.Session().PauseAutoLock()
		in, err := promptCredential()
		a.Session().ResumeAutoLock()
		if err != nil {
			return err
		}
		c, err := a.Add(cmd.Context(), in)
		if err != nil {
			return err
		}
		fmt.Printf("Added %s (%s)\n", c.Service, c.ID)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := unlockedApp(cmd.Context(), "rm")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Deleted.")
		return nil
	},
}

var biometricCmd = &cobra.Command{
	Use:   "biometric",
	Short: "Manage biometric unlock",
}

var biometricEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable biometric unlock",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := unlockedApp(cmd.Context(), "biometric-enable")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.EnableBiometric(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Biometric unlock enabled.")
		return nil
	},
}

var biometricDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable biometric unlock",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("biometric-disable")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DisableBiometric(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Biometric unlock disabled.")
		return nil
	},
}

var changePINCmd = &cobra.Command{
	Use:   "change-pin",
	Short: "Change the master PIN",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := unlockedApp(cmd.Context(), "change-pin")
		if err != nil {
			return err
		}
		defer a.Close()

		current, err := readPIN("Current PIN: ")
		if err != nil {
			return err
		}
		next, err := readNewPIN()
		if err != nil {
			return err
		}
		if err := a.ChangePIN(cmd.Context(), current, next); err != nil {
			return err
		}
		fmt.Println("Master PIN changed.")
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Erase every credential and the master PIN",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("reset")
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := confirm("This permanently deletes all credentials. Type 'reset' to continue: ", "reset")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
		if err := a.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Vault reset. Run `pinvault setup` to create a new PIN.")
		return nil
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open an interactive session with auto-lock",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("shell")
		if err != nil {
			return err
		}
		defer a.Close()

		return runShell(cmd.Context(), a)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// biometric subcommands
	biometricCmd.AddCommand(biometricEnableCmd)
	biometricCmd.AddCommand(biometricDisableCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringP("filter", "f", "", "Only show credentials matching this text")
	listCmd.Flags().Bool("reveal", false, "Print passwords")
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(biometricCmd)
	rootCmd.AddCommand(changePINCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(shellCmd)
}
