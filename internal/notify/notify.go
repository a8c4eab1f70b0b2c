// Package notify posts activation change notifications to webhooks.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkgfs-project/pkgfsd/pkg/logging"
	"github.com/pkgfs-project/pkgfsd/pkg/model"
)

// EventType names a notification.
type EventType string

const (
	EventActivationChanged EventType = "activation.changed"
	EventCommitFailed      EventType = "commit.failed"
	EventProblemsDetected  EventType = "problems.detected"
	EventStatesPruned      EventType = "states.pruned"
)

// Event is the JSON payload posted to a webhook.
type Event struct {
	Event       EventType       `json:"event"`
	Timestamp   string          `json:"timestamp"`
	Location    model.MountType `json:"location,omitempty"`
	Root        string          `json:"root,omitempty"`
	ChangeCount int64           `json:"change_count,omitempty"`
	Activated   []string        `json:"activated,omitempty"`
	Deactivated []string        `json:"deactivated,omitempty"`
	OldState    string          `json:"old_state,omitempty"`
	Error       string          `json:"error,omitempty"`
	Problems    []string        `json:"problems,omitempty"`
}

// Hook is one webhook endpoint.
type Hook struct {
	URL     string
	Secret  string
	Events  []EventType
	Timeout time.Duration
}

// Config configures a Dispatcher.
type Config struct {
	Hooks          []Hook
	MaxRetries     int
	RetryDelay     time.Duration
	AsyncQueueSize int
}

// DefaultConfig returns the dispatcher defaults without hooks.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		RetryDelay:     5 * time.Second,
		AsyncQueueSize: 100,
	}
}

type job struct {
	event Event
	hook  Hook
}

// Dispatcher delivers events to the matching hooks from a background
// goroutine.
type Dispatcher struct {
	cfg   Config
	http  *http.Client
	log   *logging.Logger
	queue chan job
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
	now   func() time.Time
}

// NewDispatcher creates a dispatcher and starts its worker.
func NewDispatcher(cfg Config, log *logging.Logger) *Dispatcher {
	if cfg.AsyncQueueSize <= 0 {
		cfg.AsyncQueueSize = DefaultConfig().AsyncQueueSize
	}
	if log == nil {
		log = logging.Component("notify")
	}
	d := &Dispatcher{
		cfg:   cfg,
		http:  &http.Client{Timeout: 30 * time.Second},
		log:   log,
		queue: make(chan job, cfg.AsyncQueueSize),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			for {
				select {
				case j := <-d.queue:
					d.deliver(j)
				default:
					return
				}
			}
		case j := <-d.queue:
			d.deliver(j)
		}
	}
}

// Publish queues event for every matching hook. It never blocks; events
// are dropped when the queue is full.
func (d *Dispatcher) Publish(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = d.now().UTC().Format(time.RFC3339)
	}
	for _, hook := range d.cfg.Hooks {
		if !matches(hook, event.Event) {
			continue
		}
		select {
		case d.queue <- job{event: event, hook: hook}:
		default:
			d.log.Warn("webhook queue full, dropping event", map[string]any{"event": string(event.Event), "url": hook.URL})
		}
	}
}

// Send delivers event synchronously and returns the last delivery error.
func (d *Dispatcher) Send(event Event) error {
	if event.Timestamp == "" {
		event.Timestamp = d.now().UTC().Format(time.RFC3339)
	}
	var lastErr error
	for _, hook := range d.cfg.Hooks {
		if matches(hook, event.Event) {
			if err := d.sendSync(job{event: event, hook: hook}); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

func (d *Dispatcher) deliver(j job) {
	if err := d.sendSync(j); err != nil {
		d.log.WarnErr("webhook delivery failed", err, map[string]any{"event": string(j.event.Event), "url": j.hook.URL})
	}
}

func (d *Dispatcher) sendSync(j job) error {
	payload, err := json.Marshal(j.event)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(d.cfg.RetryDelay)
		}
		if lastErr = d.post(j.hook, payload); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (d *Dispatcher) post(hook Hook, payload []byte) error {
	ctx := context.Background()
	if hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hook.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pkgfsd-webhook/1.0")
	if hook.Secret != "" {
		req.Header.Set("X-Pkgfsd-Signature", Sign(payload, hook.Secret))
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
}

// Sign returns the HMAC-SHA256 signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func matches(hook Hook, event EventType) bool {
	if len(hook.Events) == 0 {
		return true
	}
	for _, e := range hook.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// Close stops the worker after delivering queued events.
func (d *Dispatcher) Close() error {
	d.once.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
	return nil
}
