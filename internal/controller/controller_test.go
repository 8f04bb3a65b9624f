package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"strings"
	"testing"

	"czcage/internal/candidates"
	"czcage/internal/dom/htmldoc"
	"czcage/internal/settings"
)

func page(t *testing.T, n int) *htmldoc.Document {
	t.Helper()
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<img width="200" height="200" src="https://site.example/%d.jpg">`, i)
	}
	b.WriteString("</body></html>")
	d, err := htmldoc.ParseString(b.String())
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func markedCount(t *testing.T, d *htmldoc.Document) int {
	t.Helper()
	els, err := d.MarkedImages()
	if err != nil {
		t.Fatal(err)
	}
	return len(els)
}

func load(t *testing.T, d *htmldoc.Document, store settings.Store, logger *log.Logger) *Controller {
	t.Helper()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c, err := Load(context.Background(), Config{
		Store:      store,
		Candidates: candidates.New("images/a.jpg", "images/b.jpg"),
		Resolver:   candidates.BaseURL("http://localhost:8081/__czcage/"),
		Document:   d,
		Watcher:    d,
		Logger:     logger,
		Rand:       rand.New(rand.NewPCG(4, 4)),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func rate(n int) *settings.Partial {
	p := settings.Partial{ReplacementRate: &n}
	return &p
}

type brokenStore struct{}

func (brokenStore) Get(context.Context) (settings.Settings, error) {
	return settings.Settings{}, errors.New("storage unavailable")
}

func (brokenStore) Save(context.Context, settings.Partial) error {
	return errors.New("storage unavailable")
}

func TestLoadUsesSavedSettings(t *testing.T) {
	store := settings.NewMemoryStore()
	if err := store.Save(context.Background(), *rate(40)); err != nil {
		t.Fatal(err)
	}
	d := page(t, 10)
	c := load(t, d, store, nil)
	if got := markedCount(t, d); got != 4 {
		t.Fatalf("marked = %d, want 4", got)
	}
	if c.FirstPass().Replaced != 4 || c.ID() == "" {
		t.Fatalf("first pass = %+v id=%q", c.FirstPass(), c.ID())
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	var logs bytes.Buffer
	d := page(t, 10)
	c := load(t, d, brokenStore{}, log.New(&logs, "", 0))
	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Settings != settings.Default() {
		t.Fatalf("settings = %+v, want defaults", st.Settings)
	}
	// ceil(10 * 1 / 100)
	if got := markedCount(t, d); got != 1 {
		t.Fatalf("marked = %d, want 1", got)
	}
	if !strings.Contains(logs.String(), "storage unavailable") {
		t.Fatalf("store failure not logged: %q", logs.String())
	}
}

func TestLoadWithUnwatchableRoot(t *testing.T) {
	d := page(t, 2)
	c, err := Load(context.Background(), Config{
		Candidates: candidates.New("images/a.jpg"),
		Document:   d,
		Watcher:    d,
		Root:       "#nowhere",
		Logger:     log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()
	st, _ := c.Status(context.Background())
	if st.Watching || st.Passes != 1 {
		t.Fatalf("status = %+v", st)
	}
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()
	d := page(t, 10)
	c := load(t, d, settings.NewMemoryStore(), nil)

	if _, ok := c.HandleMessage(ctx, Message{Action: "ping"}); ok {
		t.Fatal("unknown action was answered")
	}
	if _, ok := c.HandleMessage(ctx, Message{Action: ActionUpdateSettings}); ok {
		t.Fatal("update without settings was answered")
	}
	resp, ok := c.HandleMessage(ctx, Message{Action: ActionUpdateSettings, Settings: rate(100)})
	if !ok || !resp.Success {
		t.Fatalf("resp = %+v ok=%v", resp, ok)
	}
	if got := markedCount(t, d); got != 10 {
		t.Fatalf("marked = %d, want 10", got)
	}
	// an empty update keeps the current rate
	resp, ok = c.HandleMessage(ctx, Message{Action: ActionUpdateSettings, Settings: &settings.Partial{}})
	if !ok || !resp.Success || markedCount(t, d) != 10 {
		t.Fatalf("empty update changed the page: %+v marked=%d", resp, markedCount(t, d))
	}
}

func TestHandleJSON(t *testing.T) {
	ctx := context.Background()
	d := page(t, 4)
	c := load(t, d, settings.NewMemoryStore(), nil)

	out, ok := c.HandleJSON(ctx, []byte(`{"action":"updateSettings","settings":{"replacementRate":50}}`))
	if !ok || string(out) != `{"success":true}` {
		t.Fatalf("out = %s ok=%v", out, ok)
	}
	if got := markedCount(t, d); got != 2 {
		t.Fatalf("marked = %d, want 2", got)
	}
	for _, raw := range []string{`{"action":"other"}`, `nope`, `{}`} {
		if _, ok := c.HandleJSON(ctx, []byte(raw)); ok {
			t.Errorf("%s was answered", raw)
		}
	}
}

func TestClosedControllerReportsFailure(t *testing.T) {
	d := page(t, 2)
	c := load(t, d, nil, nil)
	c.Close()
	resp, ok := c.HandleMessage(context.Background(), Message{Action: ActionUpdateSettings, Settings: rate(50)})
	if !ok || resp.Success {
		t.Fatalf("resp = %+v ok=%v", resp, ok)
	}
}
