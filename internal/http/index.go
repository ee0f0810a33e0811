package http

import (
	"fmt"
	"net/http"

	"helpdesk/internal/models"
)

type credentialSource interface {
	Credentials() (models.Credentials, error)
}

const loginPage = `Helpdesk console is not logged in.

Run this on the machine hosting the console:

    helpdesk -login -email you@example.com

then restart helpdesk and reload this page.
`

// NewIndexHandler is the login boundary: without a stored token the browser
// is sent to /login, otherwise the console status is served.
func NewIndexHandler(creds credentialSource, status http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c, err := creds.Credentials(); err != nil || c.Token == "" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		status(w, r)
	}
}

func LoginPageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, loginPage)
}
