package keyring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"keystone/internal/domain"
)

// VaultClient talks to Vault's KV v2 API over plain HTTP. The keyring
// lives at one path as a {"version": "secret"} document.
type VaultClient struct {
	addr       string
	token      string
	httpClient *http.Client
}

func NewVaultClient(addr, token string) *VaultClient {
	return &VaultClient{
		addr:       strings.TrimRight(addr, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// LoadRing reads the keyring document stored at path.
func (c *VaultClient) LoadRing(ctx context.Context, path string) (*domain.Keyring, error) {
	var doc map[string]string
	if err := c.readKV(ctx, path, &doc); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return Parse(string(raw))
}

// StoreRing writes the keyring document back, e.g. after a rotation.
func (c *VaultClient) StoreRing(ctx context.Context, path string, ring *domain.Keyring) error {
	encoded, err := Encode(ring)
	if err != nil {
		return err
	}
	var doc map[string]string
	if err := json.Unmarshal([]byte(encoded), &doc); err != nil {
		return err
	}
	return c.writeKV(ctx, path, doc)
}

func (c *VaultClient) readKV(ctx context.Context, path string, out any) error {
	if err := c.check(path); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+"/v1/"+strings.TrimLeft(path, "/"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Vault-Token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vault read failed: status %d", resp.StatusCode)
	}

	var envelope struct {
		Data struct {
			Data json.RawMessage `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return err
	}
	if len(envelope.Data.Data) == 0 {
		return errors.New("vault response missing data")
	}
	return json.Unmarshal(envelope.Data.Data, out)
}

func (c *VaultClient) writeKV(ctx context.Context, path string, payload any) error {
	if err := c.check(path); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{"data": payload})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.addr+"/v1/"+strings.TrimLeft(path, "/"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Vault-Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("vault write failed: status %d", resp.StatusCode)
	}
	return nil
}

func (c *VaultClient) check(path string) error {
	if c == nil {
		return errors.New("vault client is nil")
	}
	if c.addr == "" || c.token == "" {
		return errors.New("vault addr or token missing")
	}
	if path == "" {
		return errors.New("vault path is required")
	}
	return nil
}
