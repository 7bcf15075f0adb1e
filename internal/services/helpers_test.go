package services

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"comedores/internal/cache"
	"comedores/internal/repositories"
	"comedores/internal/utils"
)

// recordingNotifier keeps every message and fails while failWith is set.
type recordingNotifier struct {
	mu       sync.Mutex
	sent     []Message
	failWith error
}

func (n *recordingNotifier) Send(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return n.failWith
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (n *recordingNotifier) last() Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

func (n *recordingNotifier) fail(err error) {
	n.mu.Lock()
	n.failWith = err
	n.mu.Unlock()
}

var codeInBody = regexp.MustCompile(`\b\d{6}\b`)

func (n *recordingNotifier) lastCode(t *testing.T) string {
	t.Helper()
	code := codeInBody.FindString(n.last().Body)
	if code == "" {
		t.Fatalf("no code in message body: %q", n.last().Body)
	}
	return code
}

var errSMTPDown = errors.New("smtp: connection refused")

type fixture struct {
	svc      *VerificationService
	auth     *AuthService
	store    *repositories.MemoryAccountStore
	throttle *ResendThrottle
	mailer   *recordingNotifier
	clock    *utils.FakeClock
}

type fixtureOption func(*ThrottleConfig, *VerificationConfig)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	clock := utils.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tcfg := ThrottleConfig{Cooldown: 60 * time.Second, ResendWindow: 60 * time.Second, MaxFree: 3}
	vcfg := VerificationConfig{Window: 15 * time.Minute, MaxTries: 3}
	for _, o := range opts {
		o(&tcfg, &vcfg)
	}

	log := zap.NewNop()
	store := repositories.NewMemoryAccountStore(clock)
	throttle := NewResendThrottle(cache.NewMemoryStore(clock), clock, tcfg)
	mailer := &recordingNotifier{}
	auth := NewAuthService(store, clock, AuthConfig{Secret: []byte("test-secret"), TokenTTL: 15 * time.Minute, BcryptCost: 4}, log)
	svc := NewVerificationService(store, throttle, mailer, auth, clock, vcfg, log)

	return &fixture{svc: svc, auth: auth, store: store, throttle: throttle, mailer: mailer, clock: clock}
}

// fixedCodes makes the generator return codes in order, then random ones.
func (f *fixture) fixedCodes(codes ...string) {
	var mu sync.Mutex
	f.svc.newCode = func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(codes) == 0 {
			return utils.GenerateCode()
		}
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
}

func (f *fixture) register(t *testing.T, email string) *RegisterResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{
		Username:  "user-" + email,
		FirstName: "Ana",
		LastName:  "García",
		Email:     email,
		Password:  "secreto123",
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return res
}
