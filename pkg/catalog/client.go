package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/astromechza/comanda-relay/pkg/order"
)

// Client talks to a catalog Server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimSuffix(baseURL, "/"), HTTP: http.DefaultClient}
}

func (c *Client) ListItems(ctx context.Context, coll Collection) ([]Item, error) {
	var out []Item
	err := c.do(ctx, http.MethodGet, string(coll), nil, &out)
	return out, err
}

func (c *Client) CreateItem(ctx context.Context, coll Collection, it Item) (Item, error) {
	var out Item
	err := c.do(ctx, http.MethodPost, string(coll), it, &out)
	return out, err
}

func (c *Client) UpdateItem(ctx context.Context, coll Collection, it Item) (Item, error) {
	var out Item
	err := c.do(ctx, http.MethodPut, string(coll)+"/"+url.PathEscape(it.ID), it, &out)
	return out, err
}

func (c *Client) DeleteItem(ctx context.Context, coll Collection, id string) error {
	return c.do(ctx, http.MethodDelete, string(coll)+"/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListAccounts(ctx context.Context, coll Collection) ([]order.Order, error) {
	var out []order.Order
	err := c.do(ctx, http.MethodGet, string(coll), nil, &out)
	return out, err
}

func (c *Client) SaveAccount(ctx context.Context, coll Collection, o order.Order) (order.Order, error) {
	var out order.Order
	err := c.do(ctx, http.MethodPost, string(coll), o, &out)
	return out, err
}

func (c *Client) DeleteAccount(ctx context.Context, coll Collection, id string) error {
	return c.do(ctx, http.MethodDelete, string(coll)+"/"+url.PathEscape(id), nil, nil)
}

// Accounts binds the client to one account collection.
func (c *Client) Accounts(coll Collection) Accounts {
	return Accounts{client: c, collection: coll}
}

type Accounts struct {
	client     *Client
	collection Collection
}

func (a Accounts) List(ctx context.Context) ([]order.Order, error) {
	return a.client.ListAccounts(ctx, a.collection)
}

func (a Accounts) Save(ctx context.Context, o order.Order) (order.Order, error) {
	return a.client.SaveAccount(ctx, a.collection, o)
}

func (a Accounts) DeleteAccount(ctx context.Context, id string) error {
	return a.client.DeleteAccount(ctx, a.collection, id)
}

// StatusError is a non-2xx answer from the catalog.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return "catalog returned " + http.StatusText(e.Code) + ": " + e.Message
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/"+path, body)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to %s %s", method, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		serr := &StatusError{Code: resp.StatusCode, Message: msg.Message}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return errors.Wrap(ErrNotFound, serr.Error())
		case http.StatusBadRequest:
			return &ValidationError{Field: "request", Message: msg.Message}
		default:
			return serr
		}
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "failed to decode response")
}
