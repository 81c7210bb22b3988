package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"pinvault/internal/pv"
)

var stdin = bufio.NewReader(os.Stdin)

var stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

// readLine prints prompt and returns the next line of input without its
// trailing newline.
func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readSecret reads a line without echo when stdin is a terminal.
func readSecret(prompt string) (string, error) {
	if !stdinIsTerminal() {
		return readLine(prompt)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(b), nil
}

func readPIN(prompt string) (string, error) {
	pin, err := readSecret(prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(pin), nil
}

// readNewPIN asks for a PIN twice.
func readNewPIN() (string, error) {
	pin, err := readPIN(fmt.Sprintf("New PIN (digits, up to %d): ", pv.MaxPINLength))
	if err != nil {
		return "", err
	}
	again, err := readPIN("Repeat new PIN: ")
	if err != nil {
		return "", err
	}
	if pin != again {
		return "", errors.New("PINs do not match")
	}
	return pin, nil
}

func confirm(prompt, want string) (bool, error) {
	answer, err := readLine(prompt)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(answer) == want, nil
}

// generatePassword creates a password and shows it once.
func generatePassword() (string, error) {
	pw, err := pv.GeneratePassword(pv.GeneratedPasswordLength)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "Generated password: %s\n", pw)
	return pw, nil
}

// promptCredential asks for every credential field. An empty password
// answer generates one.
func promptCredential() (pv.CredentialInput, error) {
	var in pv.CredentialInput
	var err error
	if in.Service, err = readLine("Service: "); err != nil {
		return in, err
	}
	if in.Username, err = readLine("Username: "); err != nil {
		return in, err
	}
	if in.Password, err = readSecret("Password (empty to generate): "); err != nil {
		return in, err
	}
	if in.Password == "" {
		if in.Password, err = generatePassword(); err != nil {
			return in, err
		}
	}
	if in.Website, err = readLine("Website (optional): "); err != nil {
		return in, err
	}
	if in.Notes, err = readLine("Notes (optional): "); err != nil {
		return in, err
	}
	return in, nil
}

// promptPatch asks for new values, leaving a field unchanged when the answer
// is empty. A single "-" clears an optional field; "gen" as the password
// generates a new one.
func promptPatch(cur *pv.Credential) (pv.CredentialPatch, error) {
	var p pv.CredentialPatch
	ask := func(label, current string, secret bool, dst **string) error {
		prompt := fmt.Sprintf("%s [%s]: ", label, current)
		read := readLine
		if secret {
			prompt = label + " [unchanged, gen to generate]: "
			read = readSecret
		}
		v, err := read(prompt)
		if err != nil {
			return err
		}
		switch {
		case v == "":
		case secret && v == "gen":
			pw, err := generatePassword()
			if err != nil {
				return err
			}
			*dst = &pw
		case v == "-":
			empty := ""
			*dst = &empty
		default:
			*dst = &v
		}
		return nil
	}

	if err := ask("Service", cur.Service, false, &p.Service); err != nil {
		return p, err
	}
	if err := ask("Username", cur.Username, false, &p.Username); err != nil {
		return p, err
	}
	if err := ask("Password", "", true, &p.Password); err != nil {
		return p, err
	}
	if err := ask("Website", cur.Website, false, &p.Website); err != nil {
		return p, err
	}
	if err := ask("Notes", cur.Notes, false, &p.Notes); err != nil {
		return p, err
	}
	return p, nil
}
