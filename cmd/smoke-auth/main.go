package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"tourneyhub.io/internal/ids"
)

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type session struct {
	Token    string `json:"token"`
	Identity struct {
		User struct {
			ID    int64  `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		Permissions []string `json:"permissions"`
	} `json:"identity"`
}

func call(ctx context.Context, method, url, token string, body any) (int, envelope) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			log.Fatalf("marshal: %v", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s %s: %v", method, url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

func main() {
	base := os.Getenv("TOURNEYHUB_API_ADDR")
	if base == "" {
		base = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	email := fmt.Sprintf("smoke-%s@example.com", ids.New())
	password := "smoke-password-1"

	status, env := call(ctx, http.MethodPost, base+"/api/auth/register", "", map[string]string{
		"email": email, "password": password, "name": "Smoke Test",
	})
	if status != http.StatusCreated {
		log.Fatalf("register: status=%d code=%s error=%s", status, env.Code, env.Error)
	}

	status, env = call(ctx, http.MethodPost, base+"/api/auth/login", "", map[string]string{
		"email": email, "password": password,
	})
	if status != http.StatusOK {
		log.Fatalf("login: status=%d code=%s", status, env.Code)
	}
	var s session
	if err := json.Unmarshal(env.Data, &s); err != nil {
		log.Fatalf("decode session: %v", err)
	}

	status, env = call(ctx, http.MethodGet, base+"/api/auth/me", s.Token, nil)
	if status != http.StatusOK {
		log.Fatalf("me: status=%d code=%s", status, env.Code)
	}

	status, env = call(ctx, http.MethodGet, base+"/api/auth/me", "", nil)
	if status != http.StatusUnauthorized || env.Code != "NO_TOKEN" {
		log.Fatalf("anonymous me: expected 401 NO_TOKEN, got %d %s", status, env.Code)
	}

	status, env = call(ctx, http.MethodGet, base+"/api/auth/me", s.Token+"x", nil)
	if status != http.StatusUnauthorized {
		log.Fatalf("tampered token: expected 401, got %d %s", status, env.Code)
	}

	fmt.Printf("auth smoke test passed: user=%d permissions=%d\n", s.Identity.User.ID, len(s.Identity.Permissions))
}
