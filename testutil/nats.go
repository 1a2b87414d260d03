package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"
)

// MockNATSClient is an in-memory stand-in for natsclient.Client. It records
// published messages per subject and can simulate a server that refuses
// the first connects. Safe for concurrent use.
type MockNATSClient struct {
	mu           sync.RWMutex
	messages     map[string][][]byte
	connected    bool
	closed       bool
	failConnects int
	connects     int
	publishErr   error
}

// NewMockNATSClient creates a connected mock client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages:  make(map[string][][]byte),
		connected: true,
	}
}

// NewDisconnectedMockNATSClient creates a mock whose first failures calls
// to Connect fail.
func NewDisconnectedMockNATSClient(failures int) *MockNATSClient {
	c := NewMockNATSClient()
	c.connected = false
	c.failConnects = failures
	return c
}

// Connect succeeds once the configured failures are used up.
func (c *MockNATSClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.failConnects > 0 {
		c.failConnects--
		return fmt.Errorf("connection refused")
	}
	c.connected = true
	return nil
}

// Connects returns the number of Connect calls.
func (c *MockNATSClient) Connects() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connects
}

// FailPublish makes every following Publish return err; nil clears it.
func (c *MockNATSClient) FailPublish(err error) {
	c.mu.Lock()
	c.publishErr = err
	c.mu.Unlock()
}

// Publish records a copy of data on subject.
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return fmt.Errorf("client is closed")
	case !c.connected:
		return fmt.Errorf("not connected")
	case c.publishErr != nil:
		return c.publishErr
	}
	c.messages[subject] = append(c.messages[subject], slices.Clone(data))
	return nil
}

// GetMessages returns a copy of the messages published on subject.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	return append([][]byte(nil), msgs...)
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// Subjects returns the number of subjects that received messages.
func (c *MockNATSClient) Subjects() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Close closes the mock client.
func (c *MockNATSClient) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed returns whether the client is closed.
func (c *MockNATSClient) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// WaitForMessage waits for a message on subject and returns the latest.
func WaitForMessage(t *testing.T, client *MockNATSClient, subject string, timeout time.Duration) []byte {
	t.Helper()

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for message on subject %s", subject)
			return nil
		case <-ticker.C:
			if messages := client.GetMessages(subject); len(messages) > 0 {
				return messages[len(messages)-1]
			}
		}
	}
}

// AssertNoMessages checks that no messages were received on a subject.
func AssertNoMessages(t *testing.T, client *MockNATSClient, subject string) {
	t.Helper()
	if n := client.GetMessageCount(subject); n > 0 {
		t.Fatalf("expected no messages on subject %s, got %d", subject, n)
	}
}
