package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

var (
	baseURL   = pflag.String("base-url", "http://localhost:8080", "server base URL")
	pairCount = pflag.Int("pairs", 50, "number of admin/company pairs")
	msgCount  = pflag.Int("messages", 20, "messages each company sends")
	sendDelay = pflag.Duration("delay", 10*time.Millisecond, "pause between sends")
)

type AuthResponse struct {
	Token string `json:"access_token"`
	ID    string `json:"id"`
}

type frame struct {
	Type     string            `json:"type"`
	Messages []json.RawMessage `json:"messages"`
}

var (
	sent     atomic.Int64
	received atomic.Int64
	logger   = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

func main() {
	pflag.Parse()
	logger.Info("Starting load test", "pairs", *pairCount, "messages", *msgCount)

	start := time.Now()
	var wg sync.WaitGroup
	// Each pair is one admin watching a live thread while one company writes to it.
	for i := 0; i < *pairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	logger.Info("Load test complete",
		"sent", sent.Load(), "received_live", received.Load(), "elapsed", time.Since(start).String())
}

func runPair(pairID int) {
	pass := "password123"
	admin, err := authenticate(fmt.Sprintf("lt_%d_admin", pairID), pass, "admin")
	if err != nil {
		logger.Error("Admin auth failed", "pair", pairID, "error", err)
		return
	}
	company, err := authenticate(fmt.Sprintf("lt_%d_company", pairID), pass, "company")
	if err != nil {
		logger.Error("Company auth failed", "pair", pairID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*msgCount)*(*sendDelay)+30*time.Second)
	defer cancel()

	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchThread(ctx, admin.Token, company.ID, ready)
	}()

	select {
	case <-ready:
	case <-done:
		logger.Error("Live thread closed before its snapshot", "pair", pairID)
		return
	case <-ctx.Done():
		return
	}

	for i := 0; i < *msgCount; i++ {
		body := map[string]string{"content": fmt.Sprintf("LoadTest Msg %d from pair %d", i, pairID)}
		resp, err := doJSON(http.MethodPost, "/api/conversations/"+admin.ID+"/messages", company.Token, body)
		if err != nil {
			logger.Error("Send failed", "pair", pairID, "error", err)
			break
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusCreated {
			sent.Add(1)
		}
		time.Sleep(*sendDelay)
	}

	<-done
}

// watchThread keeps the admin's thread with the company open and counts live
// arrivals until every message has been seen or ctx ends.
func watchThread(ctx context.Context, token, counterpartyID string, ready chan<- struct{}) {
	wsURL := strings.Replace(*baseURL, "http", "ws", 1) + "/ws/conversations/" + counterpartyID + "?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		logger.Error("WS connect failed", "error", err)
		return
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	seen := 0
	for seen < *msgCount {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			logger.Warn("WS read failed", "error", err)
			return
		}
		switch f.Type {
		case "snapshot":
			close(ready)
		case "message":
			seen++
			received.Add(1)
		}
	}
}

// authenticate registers (ignores error if exists) and logs in.
func authenticate(username, password, role string) (AuthResponse, error) {
	resp, err := doJSON(http.MethodPost, "/register", "", map[string]string{
		"username": username, "password": password, "role": role, "display_name": username,
	})
	if err == nil {
		resp.Body.Close()
	}

	resp, err = doJSON(http.MethodPost, "/login", "", map[string]string{"username": username, "password": password})
	if err != nil {
		return AuthResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return AuthResponse{}, fmt.Errorf("login %s: status %d", username, resp.StatusCode)
	}

	var data AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return AuthResponse{}, fmt.Errorf("decode login: %w", err)
	}
	return data, nil
}

func doJSON(method, path, token string, data any) (*http.Response, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(method, *baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}
