// Package keyservice is the remote half of the Crypto Gateway's key
// acquisition: it fetches the file-encryption key from a configured HTTP
// endpoint when shadowfs is built with remote key mode enabled.
package keyservice

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"shadowfs.io/errors"
	"shadowfs.io/internal/cryptogw"
)

// HTTPClient is a minimal HTTP client interface. *http.Client implements it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// keyStatusAccepted is the only per-key status value a successful
// response may carry.
const keyStatusAccepted = "accepted"

// keyEnvelope is the response body shape: a single-element slice of keys,
// each with a status.
type keyEnvelope struct {
	Keys []keySlot `json:"keys"`
}

type keySlot struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Key    string `json:"key"` // base64-encoded, null-terminated in the original wire format
}

// keyRequest is the body sent to the key service.
type keyRequest struct {
	KeyID        string `json:"key_id"`
	SharedSecret string `json:"shared_secret"`
}

// Client fetches a file-encryption key from a remote key service,
// collapsing concurrent fetches for the same key ID into one HTTP
// round trip via singleflight — multiple FilePair sessions can open
// concurrently (spec.md §5) and each independently calls into the
// Crypto Gateway for a key.
type Client struct {
	URL          string
	KeyID        uuid.UUID
	SharedSecret string
	HTTPClient   HTTPClient

	group singleflight.Group
}

// Key implements cryptogw.Source by fetching the key over HTTP. Any
// failure — network, decode, non-accepted status, unexpected key count,
// or a key of the wrong length — collapses to a single KeyUnavailable
// error, per spec.md §4.2.
func (c *Client) Key() ([]byte, error) {
	const op = "keyservice.Key"
	v, err, _ := c.group.Do(c.KeyID.String(), func() (interface{}, error) {
		return c.fetch()
	})
	if err != nil {
		return nil, errors.E(op, errors.KeyUnavailable, err)
	}
	return v.([]byte), nil
}

func (c *Client) fetch() ([]byte, error) {
	body, err := json.Marshal(keyRequest{
		KeyID:        c.KeyID.String(),
		SharedSecret: c.SharedSecret,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key service returned status %d", resp.StatusCode)
	}

	var env keyEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if len(env.Keys) != 1 {
		return nil, fmt.Errorf("key service returned %d keys, want 1", len(env.Keys))
	}
	slot := env.Keys[0]
	if slot.Status != keyStatusAccepted {
		return nil, fmt.Errorf("key %s has status %q, want %q", slot.ID, slot.Status, keyStatusAccepted)
	}
	key, err := base64.StdEncoding.DecodeString(slot.Key)
	if err != nil {
		return nil, fmt.Errorf("key %s: malformed key encoding: %v", slot.ID, err)
	}
	if len(key) != cryptogw.KeySize {
		return nil, fmt.Errorf("key %s has length %d, want %d", slot.ID, len(key), cryptogw.KeySize)
	}
	return key, nil
}

var _ cryptogw.Source = (*Client)(nil)
