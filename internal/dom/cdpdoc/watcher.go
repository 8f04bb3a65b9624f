package cdpdoc

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"czcage/internal/dom"
)

// bindingName is the page function observer.js calls with each batch.
const bindingName = "__czcage_batch"

//go:embed observer.js
var observerJS string

// Watcher installs a MutationObserver in the tab and forwards its childList
// records through a Runtime binding.
type Watcher struct {
	ctx    context.Context
	logger *log.Logger

	mu   sync.Mutex
	next int
}

var _ dom.Watcher = (*Watcher)(nil)

func NewWatcher(ctx context.Context, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{ctx: ctx, logger: logger}
}

// payload is what observer.js sends for one MutationObserver callback.
type payload struct {
	ID      int          `json:"id"`
	Records []dom.Record `json:"records"`
}

func decodePayload(raw string) (int, dom.Batch, error) {
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return 0, dom.Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	return p.ID, dom.Batch{Records: p.Records}, nil
}

func (w *Watcher) Watch(root string, onBatch func(dom.Batch)) (dom.Subscription, error) {
	w.mu.Lock()
	w.next++
	id := w.next
	w.mu.Unlock()

	lctx, cancel := context.WithCancel(w.ctx)
	sub := &subscription{
		w:       w,
		id:      id,
		cancel:  cancel,
		onBatch: onBatch,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	// Listeners run on chromedp's event loop and must not block on the
	// consumer, which may itself be issuing commands to this tab.
	chromedp.ListenTarget(lctx, func(ev any) {
		e, ok := ev.(*runtime.EventBindingCalled)
		if !ok || e.Name != bindingName {
			return
		}
		got, batch, err := decodePayload(e.Payload)
		if err != nil {
			w.logger.Printf("WATCH %v", err)
			return
		}
		if got == id {
			sub.push(batch)
		}
	})
	go sub.forward(lctx)

	rootJSON, _ := json.Marshal(root)
	var found bool
	err := chromedp.Run(w.ctx,
		runtime.AddBinding(bindingName),
		chromedp.Evaluate(observerJS, nil),
		chromedp.Evaluate(fmt.Sprintf("window.__czcage_watch(%d, %s)", id, rootJSON), &found),
	)
	if err == nil && !found {
		err = fmt.Errorf("no element matches %s", root)
	}
	if err != nil {
		cancel()
		<-sub.done
		return nil, fmt.Errorf("cdpdoc: watch: %w", err)
	}
	return sub, nil
}

type subscription struct {
	w       *Watcher
	id      int
	cancel  context.CancelFunc
	onBatch func(dom.Batch)

	mu      sync.Mutex
	queue   []dom.Batch
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func (s *subscription) push(b dom.Batch) {
	s.mu.Lock()
	s.queue = append(s.queue, b)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) forward(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		s.mu.Lock()
		batches := s.queue
		s.queue = nil
		s.mu.Unlock()
		for _, b := range batches {
			if ctx.Err() != nil {
				return
			}
			s.onBatch(b)
		}
	}
}

// Cancel disconnects the page observer and stops delivery. It does not wait
// for a batch already being delivered.
func (s *subscription) Cancel() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	err := chromedp.Run(s.w.ctx, chromedp.Evaluate(fmt.Sprintf("window.__czcage_unwatch(%d)", s.id), nil))
	if err != nil {
		s.w.logger.Printf("WATCH disconnect %d: %v", s.id, err)
	}
}
