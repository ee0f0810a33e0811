// Package backend is the REST side of the chat backend: login and room
// administration. Live traffic goes over the websocket in package ws.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"helpdesk/internal/models"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrLoginFailed  = errors.New("login failed")
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Token   string       `json:"token"`
	Admin   models.Admin `json:"admin"`
	User    models.Admin `json:"user"` // older backends name the profile "user"
}

// Room is one entry of the backend's room listing.
type Room struct {
	RoomID       string    `json:"roomId"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName,omitempty"`
	LastMessage  string    `json:"lastMessage,omitempty"`
	LastActivity time.Time `json:"lastActivity,omitzero"`
	MessageCount int       `json:"messageCount,omitempty"`
}

type roomsResponse struct {
	Success bool   `json:"success"`
	Rooms   []Room `json:"rooms"`
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// WithToken returns a copy of c that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) Login(ctx context.Context, email, password string) (models.Credentials, error) {
	var resp LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", LoginRequest{Email: email, Password: password}, &resp)
	if errors.Is(err, ErrUnauthorized) {
		return models.Credentials{}, fmt.Errorf("%w: invalid email or password", ErrLoginFailed)
	}
	if err != nil {
		return models.Credentials{}, err
	}
	if resp.Token == "" {
		msg := resp.Message
		if msg == "" {
			msg = "no token in response"
		}
		return models.Credentials{}, fmt.Errorf("%w: %s", ErrLoginFailed, msg)
	}

	admin := resp.Admin
	if admin.ID == "" && admin.Email == "" {
		admin = resp.User
	}
	return models.Credentials{Token: resp.Token, Admin: admin}, nil
}

func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var resp roomsResponse
	if err := c.do(ctx, http.MethodGet, "/chat/rooms", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func (c *Client) ClearHistory(ctx context.Context, roomID string) error {
	var resp models.APIResponse
	if err := c.do(ctx, http.MethodDelete, "/chat/history/"+url.PathEscape(roomID), nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("failed to clear history of %s: %s", roomID, resp.Message)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s failed (Status: %d): %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
