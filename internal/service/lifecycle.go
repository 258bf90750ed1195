package service

import (
	"time"

	"github.com/ayo6706/ramp-ledger/internal/chain"
	"github.com/ayo6706/ramp-ledger/internal/gateway"
	"github.com/ayo6706/ramp-ledger/internal/pixcode"
)

const defaultExternalCallTimeout = 30 * time.Second

// LifecycleService creates ledger operations and drives their outbound legs.
// External calls are always made outside RunInTx.
type LifecycleService struct {
	store    QueryStore
	audit    *AuditService
	gateway  gateway.PaymentGateway
	chain    chain.Transferer
	codes    *pixcode.Generator
	rates    ExchangeRateService
	timeout  time.Duration
	onPayout func()
}

func NewLifecycleService(store QueryStore, gw gateway.PaymentGateway, transferer chain.Transferer, codes *pixcode.Generator, rates ExchangeRateService) *LifecycleService {
	return &LifecycleService{
		store:   store,
		audit:   NewAuditService(store),
		gateway: gw,
		chain:   transferer,
		codes:   codes,
		rates:   rates,
		timeout: defaultExternalCallTimeout,
	}
}

// SetExternalCallTimeout bounds each gateway and chain call.
func (s *LifecycleService) SetExternalCallTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// SetPayoutNotifier registers fn to be called after a withdrawal is accepted.
func (s *LifecycleService) SetPayoutNotifier(fn func()) {
	s.onPayout = fn
}

func (s *LifecycleService) notifyPayout() {
	if s.onPayout != nil {
		s.onPayout()
	}
}
