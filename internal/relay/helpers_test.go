package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pscheid92/keyrelay/internal/adapter/metrics"
	"github.com/pscheid92/keyrelay/internal/domain"
)

// fakeConn records every frame handed to it.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []string
	fail   bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return domain.ErrSendBufferFull
	}
	c.frames = append(c.frames, string(frame))
	return nil
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) setFailing(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

func newTestMetrics(t *testing.T) *metrics.RelayMetrics {
	t.Helper()
	return metrics.NewRelayMetrics(metrics.NewRegistry())
}

// frame builds a wire frame. messageID and answer are omitted when empty.
func frame(key, text string, master, canAnswer bool, messageID, answer string) []byte {
	s := fmt.Sprintf(`{"key":%q,"message":%q,"master":%t,"canAnswer":%t`, key, text, master, canAnswer)
	if messageID != "" {
		s += fmt.Sprintf(`,"messageId":%q`, messageID)
	}
	if answer != "" {
		s += fmt.Sprintf(`,"answer":%q`, answer)
	}
	return []byte(s + "}")
}

func mustParse(t *testing.T, raw []byte) domain.Message {
	t.Helper()
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return msg
}
