package output

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/signportal/signportal/internal/config"
)

// mockOutput is a test implementation of Output
type mockOutput struct {
	name     string
	messages []string
	closed   bool
	sendErr  error
}

func (m *mockOutput) Name() string {
	return m.name
}

func (m *mockOutput) Send(ctx context.Context, message string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.messages = append(m.messages, message)
	return nil
}

func (m *mockOutput) Close() error {
	m.closed = true
	return nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	mock := &mockOutput{name: "test"}

	r.Register("test", mock)

	got, ok := r.Get("test")
	if !ok {
		t.Fatal("expected output to be found")
	}
	if got != mock {
		t.Error("expected same output instance")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

// Discovery registers frontmatter outputs while notify goroutines send;
// both must be safe to run concurrently.
func TestRegistry_ConcurrentRegisterAndSend(t *testing.T) {
	r := NewRegistry()
	r.Register("seed", &mockOutput{name: "seed"})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			name := fmt.Sprintf("out-%d", i)
			r.Register(name, &mockOutput{name: name})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.SendAll(context.Background(), "new lead")
			r.Get(fmt.Sprintf("out-%d", i))
		}
	}()
	wg.Wait()

	if r.Len() != 101 {
		t.Errorf("Len() = %d, want 101", r.Len())
	}
}

func TestRegistry_Get_NotFound(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Get("nonexistent")
	if ok {
		t.Error("expected output not to be found")
	}
}

func TestRegistry_SendAll(t *testing.T) {
	r := NewRegistry()
	mock1 := &mockOutput{name: "mock1"}
	mock2 := &mockOutput{name: "mock2"}

	r.Register("mock1", mock1)
	r.Register("mock2", mock2)

	ctx := context.Background()
	err := r.SendAll(ctx, "test message")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock1.messages) != 1 || mock1.messages[0] != "test message" {
		t.Errorf("mock1 did not receive message: %v", mock1.messages)
	}
	if len(mock2.messages) != 1 || mock2.messages[0] != "test message" {
		t.Errorf("mock2 did not receive message: %v", mock2.messages)
	}
}

func TestRegistry_SendAll_WithErrors(t *testing.T) {
	r := NewRegistry()
	mock1 := &mockOutput{name: "mock1"}
	mock2 := &mockOutput{name: "mock2", sendErr: errors.New("send failed")}

	r.Register("mock1", mock1)
	r.Register("mock2", mock2)

	ctx := context.Background()
	err := r.SendAll(ctx, "test message")
	if err == nil {
		t.Fatal("expected error")
	}

	// mock1 should still have received the message
	if len(mock1.messages) != 1 {
		t.Errorf("mock1 should have received message: %v", mock1.messages)
	}
}

func TestRegistry_SendTo(t *testing.T) {
	r := NewRegistry()
	mock1 := &mockOutput{name: "mock1"}
	mock2 := &mockOutput{name: "mock2"}

	r.Register("mock1", mock1)
	r.Register("mock2", mock2)

	ctx := context.Background()
	if err := r.SendTo(ctx, []string{"mock2"}, "targeted"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock1.messages) != 0 {
		t.Errorf("mock1 should not have received a message: %v", mock1.messages)
	}
	if len(mock2.messages) != 1 || mock2.messages[0] != "targeted" {
		t.Errorf("mock2 did not receive message: %v", mock2.messages)
	}

	// Empty name list falls back to SendAll
	if err := r.SendTo(ctx, nil, "broadcast"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock1.messages) != 1 || len(mock2.messages) != 2 {
		t.Errorf("broadcast not delivered: %v / %v", mock1.messages, mock2.messages)
	}

	// Unknown names error but don't block
	if err := r.SendTo(ctx, []string{"missing", "mock1"}, "partial"); err == nil {
		t.Fatal("expected error for unknown output name")
	}
	if len(mock1.messages) != 2 {
		t.Errorf("mock1 should have received the partial send: %v", mock1.messages)
	}
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry()
	mock1 := &mockOutput{name: "mock1"}
	mock2 := &mockOutput{name: "mock2"}

	r.Register("mock1", mock1)
	r.Register("mock2", mock2)

	err := r.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !mock1.closed {
		t.Error("mock1 should be closed")
	}
	if !mock2.closed {
		t.Error("mock2 should be closed")
	}
}

func TestNewFromConfig_Slack(t *testing.T) {
	// Set required env var
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/test")

	cfg := &config.OutputConfig{
		Type:    "slack",
		Channel: "#test-channel",
	}

	output, err := NewFromConfig("test-slack", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	slackOutput, ok := output.(*SlackOutput)
	if !ok {
		t.Fatal("expected SlackOutput type")
	}

	if slackOutput.Name() != "slack" {
		t.Errorf("expected name 'slack', got %q", slackOutput.Name())
	}
	if slackOutput.Channel() != "#test-channel" {
		t.Errorf("expected channel '#test-channel', got %q", slackOutput.Channel())
	}
}

func TestNewFromConfig_SlackWithConfiguredURL(t *testing.T) {
	t.Setenv("PORTAL_SLACK_URL", "https://hooks.slack.com/services/T/B/x")

	cfg := &config.OutputConfig{
		Type:    "slack",
		URL:     "${PORTAL_SLACK_URL}",
		Channel: "#signups",
	}

	output, err := NewFromConfig("signups", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := output.(*SlackOutput); !ok {
		t.Fatal("expected SlackOutput type")
	}
}

func TestNewFromConfig_Email(t *testing.T) {
	// Set required env vars
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "noreply@example.com")

	cfg := &config.OutputConfig{
		Type:    "email",
		To:      "user@example.com",
		Subject: "Test Alert",
	}

	output, err := NewFromConfig("test-email", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	emailOutput, ok := output.(*EmailOutput)
	if !ok {
		t.Fatal("expected EmailOutput type")
	}

	if emailOutput.Name() != "email" {
		t.Errorf("expected name 'email', got %q", emailOutput.Name())
	}
	if emailOutput.To() != "user@example.com" {
		t.Errorf("expected to 'user@example.com', got %q", emailOutput.To())
	}
	if emailOutput.Subject() != "Test Alert" {
		t.Errorf("expected subject 'Test Alert', got %q", emailOutput.Subject())
	}
}

func TestNewFromConfig_UnsupportedType(t *testing.T) {
	cfg := &config.OutputConfig{
		Type: "unsupported",
	}

	_, err := NewFromConfig("test", cfg)
	if err == nil {
		t.Fatal("expected error for unsupported type")
	}

	if _, err := NewFromConfig("test", nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/test")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "noreply@example.com")

	outputs := map[string]*config.OutputConfig{
		"team-slack":  {Type: "slack", Channel: "#signups"},
		"sales-email": {Type: "email", To: "sales@example.com"},
	}

	r, err := NewRegistryFromConfig(outputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	// A broken output fails the whole registry build
	outputs["bad"] = &config.OutputConfig{Type: "discord"}
	if _, err := NewRegistryFromConfig(outputs); err == nil {
		t.Fatal("expected error for unsupported output")
	}
}
