package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// ApiClient handles API requests to the stockroom server
type ApiClient struct {
	httpClient *http.Client
	// signInClient waits out the interactive sign-in window
	signInClient *http.Client
	BaseURL      string
}

// NewApiClient creates a new API client
func NewApiClient() *ApiClient {
	baseURL := os.Getenv("STOCKROOM_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return newApiClient(baseURL)
}

func newApiClient(baseURL string) *ApiClient {
	return &ApiClient{
		httpClient: &http.Client{
			Timeout: time.Second * 15,
		},
		signInClient: &http.Client{
			Timeout: time.Minute,
		},
		BaseURL: baseURL,
	}
}

// Item is one inventory row
type Item struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	SKU           string  `json:"sku"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price"`
	Category      string  `json:"category"`
	Description   string  `json:"description"`
	LowStockLevel int     `json:"lowStockLevel"`
	LastUpdated   string  `json:"lastUpdated"`
}

// ItemFields is the editable part of an item
type ItemFields struct {
	Name          string  `json:"name"`
	SKU           string  `json:"sku"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price"`
	Category      string  `json:"category"`
	Description   string  `json:"description"`
	LowStockLevel *int    `json:"lowStockLevel,omitempty"`
}

// ItemList is the filtered item view
type ItemList struct {
	Items []Item `json:"items"`
	Total int    `json:"total"`
}

// AlertItem is one low-stock entry
type AlertItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Threshold int    `json:"threshold"`
}

// Alert is the low-stock banner
type Alert struct {
	Count     int         `json:"count"`
	Message   string      `json:"message"`
	Items     []AlertItem `json:"items"`
	Remaining int         `json:"remaining"`
}

// SessionStatus reports the server's sign-in state
type SessionStatus struct {
	State      string `json:"state"`
	Account    string `json:"account"`
	PendingURL string `json:"pendingUrl"`
}

// Filter narrows the item list; empty values leave the server's filter as is
type Filter struct {
	Query    *string
	Category string
	Stock    string
}

// CheckHealth checks if the API is up and running
func (c *ApiClient) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.BaseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("API health check failed with status code: %d", resp.StatusCode)
	}

	return true, nil
}

// ListItems retrieves the filtered items
func (c *ApiClient) ListItems(f Filter) (*ItemList, error) {
	q := url.Values{}
	if f.Query != nil {
		q.Set("q", *f.Query)
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.Stock != "" {
		q.Set("stock", f.Stock)
	}
	path := "/api/v1/items"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list ItemList
	if err := c.do(c.httpClient, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreateItem adds an item
func (c *ApiClient) CreateItem(fields ItemFields) (*Item, error) {
	var item Item
	if err := c.do(c.httpClient, http.MethodPost, "/api/v1/items", fields, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateItem overwrites an item
func (c *ApiClient) UpdateItem(id string, fields ItemFields) (*Item, error) {
	var item Item
	if err := c.do(c.httpClient, http.MethodPut, "/api/v1/items/"+url.PathEscape(id), fields, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteItem removes an item
func (c *ApiClient) DeleteItem(id string) error {
	return c.do(c.httpClient, http.MethodDelete, "/api/v1/items/"+url.PathEscape(id), nil, nil)
}

// Refresh reloads the server's view of the sheet
func (c *ApiClient) Refresh() error {
	return c.do(c.httpClient, http.MethodPost, "/api/v1/refresh", nil, nil)
}

// GetCategories retrieves the category list
func (c *ApiClient) GetCategories() ([]string, error) {
	var resp struct {
		Categories []string `json:"categories"`
	}
	if err := c.do(c.httpClient, http.MethodGet, "/api/v1/categories", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Categories, nil
}

// GetLowStock retrieves the low-stock alert
func (c *ApiClient) GetLowStock() (*Alert, error) {
	var alert Alert
	if err := c.do(c.httpClient, http.MethodGet, "/api/v1/alerts/low-stock", nil, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

// GetAuthStatus retrieves the session state
func (c *ApiClient) GetAuthStatus() (*SessionStatus, error) {
	var status SessionStatus
	if err := c.do(c.httpClient, http.MethodGet, "/api/v1/auth/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SignIn blocks until the operator completes consent in the browser
func (c *ApiClient) SignIn() (*SessionStatus, error) {
	var status SessionStatus
	if err := c.do(c.signInClient, http.MethodPost, "/api/v1/auth/signin", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SignOut ends the session
func (c *ApiClient) SignOut() error {
	return c.do(c.httpClient, http.MethodPost, "/api/v1/auth/signout", nil, nil)
}

// APIError is a non-2xx reply
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (c *ApiClient) do(client *http.Client, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = string(bytes.TrimSpace(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
