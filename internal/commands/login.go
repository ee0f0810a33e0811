package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"helpdesk/internal/models"
)

type loginService interface {
	Login(ctx context.Context, email, password string) (models.Credentials, error)
	Logoff() error
}

// Login signs the operator in and prints who the console will act as.
func Login(ctx context.Context, svc loginService, email, password string) error {
	return login(ctx, os.Stdout, svc, email, password)
}

func login(ctx context.Context, out io.Writer, svc loginService, email, password string) error {
	creds, err := svc.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("failed to log in: %w. Is the backend reachable?", err)
	}

	fmt.Fprintf(out, "\nLogged in Successfully!\n")
	fmt.Fprintf(out, "Agent name:        %s\n", creds.Admin.DisplayName())
	fmt.Fprintf(out, "Email:             %s\n\n", creds.Admin.Email)
	fmt.Fprintln(out, "Start helpdesk without -login to open the console.")
	return nil
}

// Logout forgets the stored token.
func Logout(svc loginService) error {
	if err := svc.Logoff(); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	fmt.Println("Logged out.")
	return nil
}
