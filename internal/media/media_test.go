package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestPublicIDFromURL(t *testing.T) {
	cases := []struct {
		url    string
		id     string
		wantOK bool
	}{
		{"https://res.cloudinary.com/demo/image/upload/v1712/Mantenimiento/Tareas/abc.jpg", "Mantenimiento/Tareas/abc", true},
		{"https://res.cloudinary.com/demo/image/upload/v1/x.webp", "x", true},
		{"https://example.com/img/no-image.avif", "", false},
		{"https://res.cloudinary.com/demo/image/upload/noversion.jpg", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		id, ok := PublicIDFromURL(tc.url)
		if id != tc.id || ok != tc.wantOK {
			t.Errorf("PublicIDFromURL(%q)=(%q,%v), want (%q,%v)", tc.url, id, ok, tc.id, tc.wantOK)
		}
	}
}

type memoryStore struct {
	mu        sync.Mutex
	uploads   int
	failAfter int
	deleted   []string
	done      chan struct{}
}

func (m *memoryStore) Upload(_ context.Context, f File) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAfter > 0 && m.uploads >= m.failAfter {
		return "", errors.New("quota")
	}
	m.uploads++
	return "https://cdn/" + f.Name, nil
}

func (m *memoryStore) Delete(_ context.Context, url string) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, url)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return nil
}

func TestUploadAllStopsOnFailure(t *testing.T) {
	store := &memoryStore{failAfter: 1}
	urls, err := UploadAll(context.Background(), store, []File{{Name: "a"}, {Name: "b"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(urls) != 1 || urls[0] != "https://cdn/a" {
		t.Fatalf("urls=%v", urls)
	}
}

func TestDisabledStore(t *testing.T) {
	if _, err := (DisabledStore{}).Upload(context.Background(), File{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err=%v", err)
	}
	if err := (DisabledStore{}).Delete(context.Background(), "x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestDeletionQueueFallsBackWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	store := &memoryStore{done: make(chan struct{}, 2)}
	q := NewDeletionQueue(client, "media:test", store, zap.NewNop())
	q.Remove(context.Background(), "u1", "u2")

	for i := 0; i < 2; i++ {
		select {
		case <-store.done:
		case <-time.After(2 * time.Second):
			t.Fatal("inline delete did not run")
		}
	}
	if len(store.deleted) != 2 {
		t.Fatalf("deleted=%v", store.deleted)
	}
}

func TestBackgroundRemover(t *testing.T) {
	store := &memoryStore{done: make(chan struct{}, 1)}
	BackgroundRemover{Store: store, Logger: zap.NewNop()}.Remove(context.Background(), "u")
	select {
	case <-store.done:
	case <-time.After(time.Second):
		t.Fatal("delete did not run")
	}
}
