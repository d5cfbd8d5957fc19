package dnsjump

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dnsjump/dnsjump/profile"
	"github.com/dnsjump/dnsjump/sysdns"
)

// fakeProvider is a scriptable sysdns.Provider.
type fakeProvider struct {
	conn        *sysdns.Connection
	connErr     error
	applyErr    error
	verifyOK    bool
	verifyErr   error
	resetErr    error
	applyCalls  atomic.Int32
	verifyCalls atomic.Int32
	resetCalls  atomic.Int32

	// applyStarted/applyRelease let a test hold an apply open to force
	// overlap with a second activation attempt.
	applyStarted chan struct{}
	applyRelease chan struct{}

	gotIPv4 []string
	gotIPv6 []string
	mu      sync.Mutex
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		conn:     &sysdns.Connection{ID: "uuid-1", Name: "Home WLAN", Device: "wlan0", Type: "802-11-wireless"},
		verifyOK: true,
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) ActiveConnection(ctx context.Context) (*sysdns.Connection, error) {
	if f.connErr != nil {
		return nil, f.connErr
	}
	return f.conn, nil
}

func (f *fakeProvider) ApplyServers(ctx context.Context, conn *sysdns.Connection, ipv4, ipv6 []string) error {
	f.applyCalls.Add(1)
	f.mu.Lock()
	f.gotIPv4 = append([]string{}, ipv4...)
	f.gotIPv6 = append([]string{}, ipv6...)
	f.mu.Unlock()

	if f.applyStarted != nil {
		close(f.applyStarted)
		f.applyStarted = nil
		<-f.applyRelease
	}
	return f.applyErr
}

func (f *fakeProvider) VerifyServers(ctx context.Context, conn *sysdns.Connection) (bool, error) {
	f.verifyCalls.Add(1)
	return f.verifyOK, f.verifyErr
}

func (f *fakeProvider) ResetToAutomatic(ctx context.Context, conn *sysdns.Connection) error {
	f.resetCalls.Add(1)
	return f.resetErr
}

func (f *fakeProvider) CurrentEffectiveServers(ctx context.Context) string { return "1.1.1.1" }

func TestActivateHappyPath(t *testing.T) {
	fake := newFakeProvider()
	ctrl := NewController(fake)

	conn, err := ctrl.Activate(context.Background(), []string{"1.1.1.1", "2606:4700:4700::1111"})
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if conn == nil || conn.ID != "uuid-1" {
		t.Fatalf("unexpected connection %+v", conn)
	}
	if got := ctrl.State(); got != StateDone {
		t.Errorf("state = %s, want done", got)
	}

	// Families were partitioned before reaching the provider
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.gotIPv4) != 1 || fake.gotIPv4[0] != "1.1.1.1" {
		t.Errorf("ipv4 = %v", fake.gotIPv4)
	}
	if len(fake.gotIPv6) != 1 || fake.gotIPv6[0] != "2606:4700:4700::1111" {
		t.Errorf("ipv6 = %v", fake.gotIPv6)
	}
}

func TestActivateValidationFailsBeforeSideEffects(t *testing.T) {
	fake := newFakeProvider()
	ctrl := NewController(fake)

	_, err := ctrl.Activate(context.Background(), []string{"999.1.1.1", "1.1.1.1"})
	if !errors.Is(err, profile.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}

	_, err = ctrl.Activate(context.Background(), []string{"1.1.1.1"})
	if !errors.Is(err, profile.ErrInsufficientServers) {
		t.Fatalf("expected ErrInsufficientServers, got %v", err)
	}

	if n := fake.applyCalls.Load(); n != 0 {
		t.Errorf("ApplyServers called %d times before validation passed", n)
	}
}

func TestActivateNoActiveConnection(t *testing.T) {
	fake := newFakeProvider()
	fake.connErr = sysdns.ErrNoActiveConnection
	ctrl := NewController(fake)

	_, err := ctrl.Activate(context.Background(), []string{"1.1.1.1", "1.0.0.1"})
	if !errors.Is(err, sysdns.ErrNoActiveConnection) {
		t.Fatalf("expected ErrNoActiveConnection, got %v", err)
	}
	if n := fake.applyCalls.Load(); n != 0 {
		t.Errorf("ApplyServers called %d times with no active connection", n)
	}
}

func TestActivateApplyFailure(t *testing.T) {
	fake := newFakeProvider()
	fake.applyErr = errors.New("nmcli: device disconnected")
	ctrl := NewController(fake)

	_, err := ctrl.Activate(context.Background(), []string{"1.1.1.1", "1.0.0.1"})
	if !errors.Is(err, ErrApplyFailed) {
		t.Fatalf("expected ErrApplyFailed, got %v", err)
	}
	if errors.Is(err, ErrVerificationFailed) {
		t.Error("apply failure must not look like a verification failure")
	}
	if n := fake.verifyCalls.Load(); n != 0 {
		t.Errorf("VerifyServers called %d times after a failed apply", n)
	}
}

func TestActivateVerificationFailureIsDistinct(t *testing.T) {
	fake := newFakeProvider()
	fake.verifyOK = false
	ctrl := NewController(fake)

	_, err := ctrl.Activate(context.Background(), []string{"1.1.1.1", "1.0.0.1"})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
	if errors.Is(err, ErrApplyFailed) {
		t.Error("verification failure must not look like an apply failure")
	}
	if n := fake.applyCalls.Load(); n != 1 {
		t.Errorf("ApplyServers called %d times, want 1", n)
	}
}

func TestActivateConcurrentSecondAttemptRejected(t *testing.T) {
	fake := newFakeProvider()
	fake.applyStarted = make(chan struct{})
	fake.applyRelease = make(chan struct{})
	ctrl := NewController(fake)

	firstDone := make(chan error, 1)
	go func() {
		_, err := ctrl.Activate(context.Background(), []string{"1.1.1.1", "1.0.0.1"})
		firstDone <- err
	}()

	// Wait until the first attempt is inside ApplyServers
	<-fake.applyStarted

	_, err := ctrl.Activate(context.Background(), []string{"8.8.8.8", "8.8.4.4"})
	if !errors.Is(err, ErrActivationInProgress) {
		t.Fatalf("expected ErrActivationInProgress, got %v", err)
	}

	close(fake.applyRelease)
	if err := <-firstDone; err != nil {
		t.Fatalf("first activation failed: %v", err)
	}

	if n := fake.applyCalls.Load(); n != 1 {
		t.Errorf("ApplyServers called %d times, want exactly 1", n)
	}
}

func TestResetSharesInFlightGuard(t *testing.T) {
	fake := newFakeProvider()
	fake.applyStarted = make(chan struct{})
	fake.applyRelease = make(chan struct{})
	ctrl := NewController(fake)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Activate(context.Background(), []string{"1.1.1.1", "1.0.0.1"})
	}()
	<-fake.applyStarted

	if _, err := ctrl.Reset(context.Background()); !errors.Is(err, ErrActivationInProgress) {
		t.Errorf("expected ErrActivationInProgress from Reset, got %v", err)
	}

	close(fake.applyRelease)
	<-done

	if _, err := ctrl.Reset(context.Background()); err != nil {
		t.Errorf("Reset after activation finished: %v", err)
	}
	if n := fake.resetCalls.Load(); n != 1 {
		t.Errorf("ResetToAutomatic called %d times, want 1", n)
	}
}
