// Command gdrive-auth runs the OAuth consent flow once and prints the
// refresh token to set as GDRIVE_REFRESH_TOKEN for STORAGE_PROVIDER=gdrive.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"

	"transcoder/internal/pkg/errors"
	"transcoder/internal/pkg/logger"
	"transcoder/internal/storage"
)

const consentTimeout = 3 * time.Minute

func main() {
	_ = godotenv.Load()
	log := logger.New(logger.Config{Level: "info", Format: "text", ServiceName: "gdrive-auth"})

	clientID := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_ID"))
	clientSecret := strings.TrimSpace(os.Getenv("GDRIVE_CLIENT_SECRET"))
	if clientID == "" || clientSecret == "" {
		log.LogFatal("missing credentials", errors.ValidationField("GDRIVE_CLIENT_ID", "GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET are required"))
	}

	token, err := authorize(context.Background(), clientID, clientSecret, log)
	if err != nil {
		log.LogFatal("authorization failed", err)
	}
	if strings.TrimSpace(token.RefreshToken) == "" {
		log.Error("no refresh token returned; revoke the app at https://myaccount.google.com/permissions and retry")
		os.Exit(1)
	}
	fmt.Println(token.RefreshToken)
}

func authorize(ctx context.Context, clientID, clientSecret string, log *logger.Logger) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}
	defer ln.Close()

	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)
	conf := storage.DriveOAuthConfig(clientID, clientSecret, redirectURL)
	state := randomState()

	codes := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:      callbackHandler(state, codes),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	// Offline access with forced consent so a refresh token is issued.
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	log.Info("open this URL in a browser", "url", authURL, "callback", redirectURL)

	var res callbackResult
	select {
	case res = <-codes:
	case <-time.After(consentTimeout):
		return nil, errors.Timeout("gdrive.consent")
	}
	if res.err != nil {
		return nil, res.err
	}
	return conf.Exchange(ctx, res.code)
}

type callbackResult struct {
	code string
	err  error
}

// callbackHandler accepts the first redirect carrying state and reports the
// authorization code, or why there is none.
func callbackHandler(state string, out chan<- callbackResult) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res callbackResult
		switch {
		case q.Get("state") != state:
			res.err = errors.Validation("invalid state")
		case q.Get("error") != "":
			res.err = errors.Newf(errors.CodeValidation, "consent denied: %s", q.Get("error"))
		case q.Get("code") == "":
			res.err = errors.Validation("missing code")
		default:
			res.code = q.Get("code")
		}

		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Authorized. You can close this window.")
		}
		select {
		case out <- res:
		default:
		}
	})
	return mux
}

func randomState() string {
	b := make([]byte, 18)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
