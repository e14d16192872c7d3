package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dedis/lottery/gateway"
	"golang.org/x/xerrors"
)

// apiClient talks to the HTTP gateway of a node.
type apiClient struct {
	url  string
	http *http.Client
}

func newAPIClient(url string) *apiClient {
	return &apiClient{
		url:  strings.TrimSuffix(url, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type balanceView struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Counter uint64 `json:"counter"`
	Frozen  bool   `json:"frozen"`
}

type upkeepView struct {
	Needed bool   `json:"needed"`
	Data   string `json:"data"`
}

type enterView struct {
	Address string `json:"address"`
	Round   uint64 `json:"round"`
	Players int    `json:"players"`
}

func (c *apiClient) state() (*gateway.StateView, error) {
	v := &gateway.StateView{}
	return v, c.do(http.MethodGet, "/api/state", nil, v)
}

func (c *apiClient) balance(addr string) (*balanceView, error) {
	v := &balanceView{}
	return v, c.do(http.MethodGet, "/api/balance/"+addr, nil, v)
}

func (c *apiClient) deposit(addr string, amount uint64) (*balanceView, error) {
	v := &balanceView{}
	body := map[string]interface{}{"address": addr, "amount": amount}
	return v, c.do(http.MethodPost, "/api/deposit", body, v)
}

func (c *apiClient) enter(t gateway.TicketView) (*enterView, error) {
	v := &enterView{}
	return v, c.do(http.MethodPost, "/api/enter", t, v)
}

func (c *apiClient) checkUpkeep() (*upkeepView, error) {
	v := &upkeepView{}
	return v, c.do(http.MethodGet, "/api/upkeep", nil, v)
}

func (c *apiClient) performUpkeep(data string) (string, error) {
	var v struct {
		RequestID string `json:"request_id"`
	}
	err := c.do(http.MethodPost, "/api/upkeep", map[string]string{"data": data}, &v)
	return v.RequestID, err
}

func (c *apiClient) winners(limit int) ([]gateway.WinnerView, error) {
	var v []gateway.WinnerView
	err := c.do(http.MethodGet, fmt.Sprintf("/api/winners?limit=%d", limit), nil, &v)
	return v, err
}

func (c *apiClient) do(method, path string, body, reply interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.url+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Errorf("contacting gateway: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return xerrors.Errorf("%s (%d)", e.Error, resp.StatusCode)
		}
		return xerrors.Errorf("gateway returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(reply)
}
