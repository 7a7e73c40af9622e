//go:build integration

package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// Do performs a request with a JSON body and bearer token and returns the status and raw body.
func (env *TestEnv) Do(method, path, token string, body any) (int, []byte) {
	env.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			env.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, env.Server.URL+path, reader)
	if err != nil {
		env.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		env.t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

// DecodeJSON unmarshals data into dst, failing the test on error.
func (env *TestEnv) DecodeJSON(data []byte, dst any) {
	env.t.Helper()
	if err := json.Unmarshal(data, dst); err != nil {
		env.t.Fatalf("decode %s: %v", string(data), err)
	}
}
