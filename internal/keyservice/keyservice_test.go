package keyservice

import (
	"encoding/base64"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"shadowfs.io/errors"
	"shadowfs.io/internal/cryptogw"
)

type fakeHTTPClient struct {
	calls    int32
	response keyEnvelope
	status   int
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	atomic.AddInt32(&f.calls, 1)
	body, err := json.Marshal(f.response)
	if err != nil {
		return nil, err
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       ioutil.NopCloser(strings.NewReader(string(body))),
	}, nil
}

func validKey() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", cryptogw.KeySize)))
}

func TestKeyAccepted(t *testing.T) {
	fc := &fakeHTTPClient{response: keyEnvelope{Keys: []keySlot{
		{ID: "1", Status: keyStatusAccepted, Key: validKey()},
	}}}
	c := &Client{URL: "http://key-service.example/key", KeyID: uuid.New(), SharedSecret: "shh", HTTPClient: fc}

	key, err := c.Key()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != cryptogw.KeySize {
		t.Errorf("got key length %d, want %d", len(key), cryptogw.KeySize)
	}
}

func TestKeyNotAccepted(t *testing.T) {
	fc := &fakeHTTPClient{response: keyEnvelope{Keys: []keySlot{
		{ID: "1", Status: "pending", Key: validKey()},
	}}}
	c := &Client{URL: "http://key-service.example/key", KeyID: uuid.New(), SharedSecret: "shh", HTTPClient: fc}

	if _, err := c.Key(); !errors.Is(errors.KeyUnavailable, err) {
		t.Errorf("expected KeyUnavailable, got %v", err)
	}
}

func TestKeyWrongCount(t *testing.T) {
	fc := &fakeHTTPClient{response: keyEnvelope{Keys: nil}}
	c := &Client{URL: "http://key-service.example/key", KeyID: uuid.New(), SharedSecret: "shh", HTTPClient: fc}

	if _, err := c.Key(); !errors.Is(errors.KeyUnavailable, err) {
		t.Errorf("expected KeyUnavailable, got %v", err)
	}
}

// Concurrent Key calls all succeed. singleflight may or may not merge
// them, depending on how the goroutines overlap, so only a lower bound
// on HTTP calls is checked.
func TestKeyConcurrentFetches(t *testing.T) {
	fc := &fakeHTTPClient{response: keyEnvelope{Keys: []keySlot{
		{ID: "1", Status: keyStatusAccepted, Key: validKey()},
	}}}
	c := &Client{URL: "http://key-service.example/key", KeyID: uuid.New(), SharedSecret: "shh", HTTPClient: fc}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Key(); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if fc.calls < 1 {
		t.Errorf("got %d HTTP calls, want at least 1", fc.calls)
	}
}
