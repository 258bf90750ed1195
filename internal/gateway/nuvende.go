package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ayo6706/ramp-ledger/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	chargeExpirySeconds = 3600
	tokenEarlyExpiry    = 60 * time.Second
	maxResponseBytes    = 1 << 20
)

var versionSuffix = regexp.MustCompile(`/v1/?$`)

// NuvendeConfig holds provider credentials. Either ClientID/ClientSecret
// (OAuth2 client credentials) or a static APIKey must be set.
type NuvendeConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Scopes       string
	APIKey       string
	PixKey       string
	Timeout      time.Duration
}

// Configured reports whether any credential is present.
func (c NuvendeConfig) Configured() bool {
	return strings.TrimSpace(c.ClientID) != "" || strings.TrimSpace(c.APIKey) != ""
}

// NuvendeGateway talks to the Nuvende Pix API. Access tokens are cached and
// refreshed a minute before they expire.
type NuvendeGateway struct {
	baseURL string
	pixKey  string
	client  *http.Client
}

var _ PaymentGateway = (*NuvendeGateway)(nil)

func NewNuvendeGateway(cfg NuvendeConfig) (*NuvendeGateway, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("nuvende base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	base := &http.Client{Timeout: timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	var src oauth2.TokenSource
	if strings.TrimSpace(cfg.ClientID) != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     versionSuffix.ReplaceAllString(baseURL, "") + "/oauth/token",
			Scopes:       strings.Fields(cfg.Scopes),
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		src = oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(ctx), tokenEarlyExpiry)
	} else {
		src = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey, TokenType: "Bearer"})
	}

	client := oauth2.NewClient(ctx, src)
	client.Timeout = timeout

	return &NuvendeGateway{
		baseURL: baseURL,
		pixKey:  cfg.PixKey,
		client:  client,
	}, nil
}

type chargeRequest struct {
	Calendario struct {
		Expiracao int `json:"expiracao"`
	} `json:"calendario"`
	Valor struct {
		Original string `json:"original"`
	} `json:"valor"`
	Chave              string `json:"chave,omitempty"`
	SolicitacaoPagador string `json:"solicitacaoPagador"`
}

type chargeResponse struct {
	TxID          string `json:"txid"`
	ID            string `json:"id"`
	PixCopiaECola string `json:"pixCopiaECola"`
	BRCode        string `json:"brcode"`
}

// CreateCharge opens an immediate Pix charge (cob).
func (g *NuvendeGateway) CreateCharge(ctx context.Context, accountRef string, amountMicros int64) (Charge, error) {
	var req chargeRequest
	req.Calendario.Expiracao = chargeExpirySeconds
	req.Valor.Original = domain.FormatMicros(amountMicros, domain.CurrencyFiat)
	req.Chave = g.pixKey
	req.SolicitacaoPagador = fmt.Sprintf("Deposit for account %s", accountRef)

	var resp chargeResponse
	if err := g.post(ctx, "create_charge", "/pix/cob", req, &resp); err != nil {
		return Charge{}, err
	}

	charge := Charge{
		ExternalID: firstNonEmpty(resp.TxID, resp.ID),
		Code:       firstNonEmpty(resp.PixCopiaECola, resp.BRCode),
	}
	if charge.ExternalID == "" {
		return Charge{}, &GatewayError{Op: "create_charge", Err: errors.New("response carried no charge id")}
	}
	return charge, nil
}

type payoutRequest struct {
	Valor  string `json:"valor"`
	Pagador struct {
		Chave string `json:"chave,omitempty"`
	} `json:"pagador"`
	Favorecido struct {
		Chave string `json:"chave"`
	} `json:"favorecido"`
	Descricao string `json:"descricao"`
}

type payoutResponse struct {
	ID         string `json:"id"`
	EndToEndID string `json:"endToEndId"`
	E2EID      string `json:"e2eId"`
}

// Payout sends a Pix payment to payoutKey.
func (g *NuvendeGateway) Payout(ctx context.Context, accountRef string, amountMicros int64, payoutKey string) (PayoutResult, error) {
	var req payoutRequest
	req.Valor = domain.FormatMicros(amountMicros, domain.CurrencyFiat)
	req.Pagador.Chave = g.pixKey
	req.Favorecido.Chave = payoutKey
	req.Descricao = fmt.Sprintf("Withdrawal for account %s", accountRef)

	var resp payoutResponse
	if err := g.post(ctx, "payout", "/pix/payments", req, &resp); err != nil {
		return PayoutResult{}, err
	}
	id := firstNonEmpty(resp.ID, resp.EndToEndID, resp.E2EID)
	if id == "" {
		id = fmt.Sprintf("out_pix_%d", time.Now().UnixMilli())
	}
	return PayoutResult{ExternalID: id}, nil
}

func (g *NuvendeGateway) post(ctx context.Context, op, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return &GatewayError{Op: op, Err: fmt.Errorf("%w: %w", ErrNotDispatched, err)}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return &GatewayError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		zap.L().Warn("nuvende request rejected", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.ByteString("body", raw))
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
