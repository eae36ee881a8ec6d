package esia

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"

	"esiaclient/errors"
)

// Person sub-resources.
const (
	ContactsPath  = "ctts"
	AddressesPath = "addrs"
	DocumentsPath = "docs"
	VehiclesPath  = "vhls"
	KidsPath      = "kids"
)

// Collection is the answer of a person sub-resource. ESIA lists a
// collection as {"size": n, "elements": [url, ...]}; when size is positive
// every element is fetched into Elements in the listed order. Otherwise
// Elements is nil and Raw is the unchanged payload.
type Collection struct {
	Raw      any   `json:"raw"`
	Elements []any `json:"elements,omitempty"`
}

// PersonInfo returns the person resource of the session subject.
func (c *Client) PersonInfo(ctx context.Context) (map[string]any, error) {
	u, err := c.cfg.PersonURL(c.session.OID)
	if err != nil {
		return nil, err
	}
	payload, err := c.send(ctx, "person", http.MethodGet, u, nil, "")
	if err != nil {
		return nil, err
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, errors.NewRequestFailed("person resource is not a JSON object", 0, nil)
	}
	return obj, nil
}

// ContactInfo returns the contacts (phones, e-mails) of the subject.
func (c *Client) ContactInfo(ctx context.Context) (Collection, error) {
	return c.collection(ctx, ContactsPath)
}

// AddressInfo returns the addresses of the subject.
func (c *Client) AddressInfo(ctx context.Context) (Collection, error) {
	return c.collection(ctx, AddressesPath)
}

// DocInfo returns the identity documents of the subject.
func (c *Client) DocInfo(ctx context.Context) (Collection, error) {
	return c.collection(ctx, DocumentsPath)
}

// VehicleInfo returns the vehicles registered to the subject.
func (c *Client) VehicleInfo(ctx context.Context) (Collection, error) {
	return c.collection(ctx, VehiclesPath)
}

// KidsInfo returns the children of the subject.
func (c *Client) KidsInfo(ctx context.Context) (Collection, error) {
	return c.collection(ctx, KidsPath)
}

func (c *Client) collection(ctx context.Context, suffix string) (Collection, error) {
	base, err := c.cfg.PersonURL(c.session.OID)
	if err != nil {
		return Collection{}, err
	}
	collURL := base + "/" + suffix

	payload, err := c.send(ctx, suffix, http.MethodGet, collURL, nil, "")
	if err != nil {
		return Collection{}, err
	}

	obj, ok := payload.(map[string]any)
	if !ok || collectionSize(obj["size"]) <= 0 {
		return Collection{Raw: payload}, nil
	}

	refs, err := elementURLs(collURL, obj["elements"])
	if err != nil {
		c.logger.Error("Invalid collection payload", "collection", suffix, "error", err)
		return Collection{}, err
	}
	elements, err := c.fetchAll(ctx, suffix+"_element", refs)
	if err != nil {
		return Collection{}, err
	}
	return Collection{Raw: payload, Elements: elements}, nil
}

// fetchAll resolves urls with at most c.concurrency requests in flight. The
// first failure cancels the remaining requests and is returned.
func (c *Client) fetchAll(ctx context.Context, op string, urls []string) ([]any, error) {
	out := make([]any, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, u := range urls {
		g.Go(func() error {
			payload, err := c.send(gctx, op, http.MethodGet, u, nil, "")
			if err != nil {
				return err
			}
			out[i] = payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func collectionSize(v any) int64 {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return int64(f)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func elementURLs(base string, v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, errors.NewRequestFailed("collection elements is not a list", 0, nil)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, errors.NewRequestFailed("invalid collection url", 0, err)
	}

	urls := make([]string, 0, len(list))
	for i, e := range list {
		s, ok := e.(string)
		if !ok {
			return nil, errors.NewRequestFailed(fmt.Sprintf("collection element %d is not a url", i), 0, nil)
		}
		ref, err := url.Parse(s)
		if err != nil {
			return nil, errors.NewRequestFailed(fmt.Sprintf("collection element %d is not a url", i), 0, err)
		}
		urls = append(urls, baseURL.ResolveReference(ref).String())
	}
	return urls, nil
}
