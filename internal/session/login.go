package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"

	"bilidl/internal/bili"
	"bilidl/internal/log"
)

// QR poll state codes returned inside the poll payload.
const (
	qrSuccess      = 0
	qrExpired      = 86038
	qrScannedAwait = 86090
	qrAwaitingScan = 86101
)

var (
	// ErrQRCodeExpired means the user did not confirm before the code expired.
	ErrQRCodeExpired = errors.New("qr code expired")

	// ErrOperationTimeout means the polling budget elapsed.
	ErrOperationTimeout = errors.New("login polling timed out")
)

// QRLogin drives the scan-to-login flow against the passport API.
type QRLogin struct {
	client       *bili.Client
	passportBase string
	interval     time.Duration
	budget       time.Duration
	logger       zerolog.Logger
}

// NewQRLogin returns a flow polling every second with a 60 s budget. The
// client's jar receives the login cookies on success.
func NewQRLogin(client *bili.Client) *QRLogin {
	return &QRLogin{
		client:       client,
		passportBase: bili.PassportBase,
		interval:     time.Second,
		budget:       60 * time.Second,
		logger:       log.WithComponent("session.login"),
	}
}

// NewQRLoginWithOptions overrides the passport origin and timing, used by
// tests and callers with stricter budgets.
func NewQRLoginWithOptions(client *bili.Client, passportBase string, interval, budget time.Duration) *QRLogin {
	l := NewQRLogin(client)
	if passportBase != "" {
		l.passportBase = passportBase
	}
	if interval > 0 {
		l.interval = interval
	}
	if budget > 0 {
		l.budget = budget
	}
	return l
}

// Generate requests a fresh QR code: the URL to render and the key to poll.
func (l *QRLogin) Generate(ctx context.Context) (bili.QRGenerateData, error) {
	var data bili.QRGenerateData
	endpoint := l.passportBase + "/x/passport-login/web/qrcode/generate"
	if err := l.client.GetJSON(ctx, endpoint, &data); err != nil {
		return bili.QRGenerateData{}, fmt.Errorf("generate qr code: %w", err)
	}
	if data.URL == "" || data.QrcodeKey == "" {
		return bili.QRGenerateData{}, &bili.InvalidResponseError{Message: "qr payload incomplete"}
	}
	return data, nil
}

// Poll waits for the QR code identified by key to be confirmed. The login
// cookies arrive via Set-Cookie on the successful poll response.
func (l *QRLogin) Poll(ctx context.Context, key string) error {
	deadline := time.Now().Add(l.budget)
	endpoint := l.passportBase + "/x/passport-login/web/qrcode/poll?" +
		url.Values{"qrcode_key": {key}}.Encode()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		var poll bili.QRPollData
		if err := l.client.GetJSON(ctx, endpoint, &poll); err != nil {
			return fmt.Errorf("poll qr state: %w", err)
		}
		switch poll.Code {
		case qrSuccess:
			l.logger.Info().Msg("qr login confirmed")
			return nil
		case qrExpired:
			return ErrQRCodeExpired
		case qrScannedAwait, qrAwaitingScan:
			// keep polling
		default:
			return &bili.InvalidResponseError{
				Message: fmt.Sprintf("unexpected qr poll code %d: %s", poll.Code, poll.Message),
			}
		}

		if time.Now().After(deadline) {
			return ErrOperationTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LoginByCookieFile imports a JSONL cookie file into the client's jar and
// probes the account state.
func LoginByCookieFile(ctx context.Context, client *bili.Client, path string) error {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return fmt.Errorf("open cookie file: %w", err)
	}
	defer f.Close() // #nosec G307

	if err := client.Jar().Import(f); err != nil {
		return fmt.Errorf("import cookie file: %w", err)
	}
	loggedIn, err := Probe(ctx, client)
	if err != nil {
		return err
	}
	if !loggedIn {
		return errors.New("cookie file does not carry a valid login")
	}
	return nil
}

// Probe checks whether the client's session is logged in via the navigation
// endpoint.
func Probe(ctx context.Context, client *bili.Client) (bool, error) {
	err := client.GetJSON(ctx, client.BaseURL()+"/x/web-interface/nav", nil)
	if err == nil {
		return true, nil
	}
	var apiErr *bili.APIError
	if errors.As(err, &apiErr) {
		// -101: not logged in.
		return false, nil
	}
	return false, fmt.Errorf("probe login state: %w", err)
}
