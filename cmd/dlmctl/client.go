package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// client is a thin wrapper over the daemon's envelope API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{
		base: base,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

type apiEnvelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs one request and returns the data payload. API errors
// come back as plain errors carrying the server's message.
func (c *client) call(method, path string, body any) (json.RawMessage, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if !env.OK {
		if env.Error != nil {
			return nil, fmt.Errorf("%s: %s", env.Error.Code, env.Error.Message)
		}
		return nil, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return env.Data, nil
}

func (c *client) get(path string) (json.RawMessage, error) {
	return c.call(http.MethodGet, path, nil)
}

func (c *client) post(path string, body any) (json.RawMessage, error) {
	return c.call(http.MethodPost, path, body)
}

func (c *client) put(path string, body any) (json.RawMessage, error) {
	return c.call(http.MethodPut, path, body)
}

func (c *client) delete(path string) (json.RawMessage, error) {
	return c.call(http.MethodDelete, path, nil)
}
