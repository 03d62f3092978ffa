// Package httpgw implements gateway.RestGateway against a
// Pithos-compatible HTTP/1.1 endpoint, grounded on the request/response
// helpers of dittofs's pkg/apiclient.
package httpgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apyrgio/kamaki/pkg/blockhash"
	"github.com/apyrgio/kamaki/pkg/gateway"
	"github.com/apyrgio/kamaki/pkg/kamakierr"
)

// Client is an HTTP-backed gateway.RestGateway.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	mu        sync.RWMutex
	account   string
	container string

	generation atomic.Uint64
}

// New creates a Client bound to no account/container yet; call
// SetContainer before starting a transfer.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetContainer rebinds the client to a new account/container. Callers
// must not invoke this while a transfer built on this client is active;
// Generation lets a caller snapshot-and-compare to catch that misuse in
// tests.
func (c *Client) SetContainer(account, container string) {
	c.mu.Lock()
	c.account = account
	c.container = container
	c.mu.Unlock()
	c.generation.Add(1)
}

// Generation returns a counter that increments on every SetContainer
// call, for detecting a rebind racing an in-flight transfer.
func (c *Client) Generation() uint64 {
	return c.generation.Load()
}

func (c *Client) accountContainer() (string, string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.account == "" || c.container == "" {
		return "", "", fmt.Errorf("%w: no account/container bound", kamakierr.ErrPrecondition)
	}
	return c.account, c.container, nil
}

func (c *Client) objectPath(obj string) (string, error) {
	account, container, err := c.accountContainer()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/%s/%s/%s", account, container, obj), nil
}

func (c *Client) containerPath() (string, error) {
	account, container, err := c.accountContainer()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/%s/%s", account, container), nil
}

// request builds and sends one HTTP request, returning the raw response
// for the caller to interpret — every endpoint has its own success-code
// table, so response handling does not generalize the way dittofs's
// do() does for its uniformly-JSON API.
func (c *Client) request(ctx context.Context, method, path string, query url.Values, headers http.Header, body []byte) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.token != "" {
		req.Header.Set("X-Auth-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s %s", kamakierr.ErrAuth, method, path)
	}
	return resp, nil
}

func readAndClose(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kamakierr.ErrNetwork, err)
	}
	return data, nil
}

// ContainerInfo implements gateway.RestGateway.
func (c *Client) ContainerInfo(ctx context.Context) (blockhash.ContainerPolicy, error) {
	path, err := c.containerPath()
	if err != nil {
		return blockhash.ContainerPolicy{}, kamakierr.New("container_info", "", err)
	}

	resp, err := c.request(ctx, http.MethodHead, path, nil, nil, nil)
	if err != nil {
		return blockhash.ContainerPolicy{}, kamakierr.New("container_info", "", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return blockhash.ContainerPolicy{}, kamakierr.New("container_info", "", fmt.Errorf("%w: status %d", kamakierr.ErrNetwork, resp.StatusCode))
	}

	var policy blockhash.ContainerPolicy
	if v := resp.Header.Get("X-Container-Block-Size"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return blockhash.ContainerPolicy{}, kamakierr.New("container_info", "", fmt.Errorf("%w: malformed X-Container-Block-Size", kamakierr.ErrFormat))
		}
		policy.BlockSize = n
	}
	policy.BlockHash = resp.Header.Get("X-Container-Block-Hash")
	if v := resp.Header.Get("X-Container-Policy-Quota"); v != "" {
		if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			policy.Quota = n
		}
	}

	return policy, nil
}

type hashmapBody struct {
	Bytes  int64    `json:"bytes"`
	Hashes []string `json:"hashes"`
}

// PutHashmap implements gateway.RestGateway.
func (c *Client) PutHashmap(ctx context.Context, obj string, hm blockhash.HashMap, size int64, attrs gateway.Attrs) (bool, gateway.MissingList, error) {
	path, err := c.objectPath(obj)
	if err != nil {
		return false, nil, kamakierr.New("commit", obj, err)
	}

	body, err := json.Marshal(hashmapBody{Bytes: size, Hashes: hm.Digests})
	if err != nil {
		return false, nil, kamakierr.New("commit", obj, fmt.Errorf("%w: %v", kamakierr.ErrFormat, err))
	}

	headers := attrsToHeaders(attrs)
	headers.Set("Content-Type", "application/json")
	query := url.Values{"hashmap": nil, "format": {"json"}}

	resp, err := c.request(ctx, http.MethodPut, path, query, headers, body)
	if err != nil {
		return false, nil, kamakierr.New("commit", obj, err)
	}
	data, err := readAndClose(resp)
	if err != nil {
		return false, nil, kamakierr.New("commit", obj, err)
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		return true, nil, nil
	case http.StatusConflict:
		var missing gateway.MissingList
		if jerr := json.Unmarshal(data, &missing); jerr != nil {
			return false, nil, kamakierr.New("commit", obj, fmt.Errorf("%w: malformed missing-block list: %v", kamakierr.ErrFormat, jerr))
		}
		return false, missing, nil
	case http.StatusNotFound:
		return false, nil, kamakierr.New("commit", obj, fmt.Errorf("%w: %s", kamakierr.ErrNotFound, obj))
	default:
		return false, nil, kamakierr.New("commit", obj, fmt.Errorf("%w: unexpected status %d", kamakierr.ErrNetwork, resp.StatusCode))
	}
}

// PostBlock implements gateway.RestGateway.
func (c *Client) PostBlock(ctx context.Context, data []byte) (string, error) {
	path, err := c.containerPath()
	if err != nil {
		return "", kamakierr.New("upload_block", "", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/octet-stream")
	query := url.Values{"update": nil}

	resp, err := c.request(ctx, http.MethodPost, path, query, headers, data)
	if err != nil {
		return "", kamakierr.New("upload_block", "", err)
	}
	respBody, err := readAndClose(resp)
	if err != nil {
		return "", kamakierr.New("upload_block", "", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		return "", kamakierr.New("upload_block", "", fmt.Errorf("%w: unexpected status %d", kamakierr.ErrNetwork, resp.StatusCode))
	}

	var hashes []string
	if err := json.Unmarshal(respBody, &hashes); err != nil || len(hashes) == 0 {
		return "", kamakierr.New("upload_block", "", fmt.Errorf("%w: malformed block-post response", kamakierr.ErrFormat))
	}
	return hashes[0], nil
}

type hashmapResponse struct {
	BlockSize int64    `json:"block_size"`
	BlockHash string   `json:"block_hash"`
	Bytes     int64    `json:"bytes"`
	Hashes    []string `json:"hashes"`
}

// GetHashmap implements gateway.RestGateway.
func (c *Client) GetHashmap(ctx context.Context, obj string, conds gateway.Conds) (gateway.RemoteHashmap, bool, error) {
	path, err := c.objectPath(obj)
	if err != nil {
		return gateway.RemoteHashmap{}, false, kamakierr.New("get_hashmap", obj, err)
	}

	headers := condsToHeaders(conds)
	query := url.Values{"hashmap": nil, "format": {"json"}}

	resp, err := c.request(ctx, http.MethodGet, path, query, headers, nil)
	if err != nil {
		return gateway.RemoteHashmap{}, false, kamakierr.New("get_hashmap", obj, err)
	}

	switch resp.StatusCode {
	case http.StatusNotModified, http.StatusPreconditionFailed:
		_ = resp.Body.Close()
		return gateway.RemoteHashmap{}, false, nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return gateway.RemoteHashmap{}, false, nil
	case http.StatusOK:
		data, err := readAndClose(resp)
		if err != nil {
			return gateway.RemoteHashmap{}, false, kamakierr.New("get_hashmap", obj, err)
		}
		var parsed hashmapResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return gateway.RemoteHashmap{}, false, kamakierr.New("get_hashmap", obj, fmt.Errorf("%w: %v", kamakierr.ErrFormat, err))
		}
		return gateway.RemoteHashmap{
			BlockSize: parsed.BlockSize,
			BlockHash: parsed.BlockHash,
			Bytes:     parsed.Bytes,
			Hashes:    parsed.Hashes,
		}, true, nil
	default:
		_ = resp.Body.Close()
		return gateway.RemoteHashmap{}, false, kamakierr.New("get_hashmap", obj, fmt.Errorf("%w: unexpected status %d", kamakierr.ErrNetwork, resp.StatusCode))
	}
}

// GetRange implements gateway.RestGateway. The caller owns and must
// close the returned ReadCloser.
func (c *Client) GetRange(ctx context.Context, obj string, start, end int64, conds gateway.Conds) (io.ReadCloser, error) {
	path, err := c.objectPath(obj)
	if err != nil {
		return nil, kamakierr.New("download_range", obj, err)
	}

	headers := condsToHeaders(conds)
	headers.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.request(ctx, http.MethodGet, path, nil, headers, nil)
	if err != nil {
		return nil, kamakierr.New("download_range", obj, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return resp.Body, nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, kamakierr.New("download_range", obj, fmt.Errorf("%w: %s", kamakierr.ErrNotFound, obj))
	default:
		_ = resp.Body.Close()
		return nil, kamakierr.New("download_range", obj, fmt.Errorf("%w: unexpected status %d", kamakierr.ErrNetwork, resp.StatusCode))
	}
}

// PutSimple implements gateway.RestGateway.
func (c *Client) PutSimple(ctx context.Context, obj string, data []byte, attrs gateway.Attrs) error {
	path, err := c.objectPath(obj)
	if err != nil {
		return kamakierr.New("upload_simple", obj, err)
	}

	headers := attrsToHeaders(attrs)
	resp, err := c.request(ctx, http.MethodPut, path, nil, headers, data)
	if err != nil {
		return kamakierr.New("upload_simple", obj, err)
	}
	if _, err := readAndClose(resp); err != nil {
		return kamakierr.New("upload_simple", obj, err)
	}
	if resp.StatusCode != http.StatusCreated {
		return kamakierr.New("upload_simple", obj, fmt.Errorf("%w: unexpected status %d", kamakierr.ErrNetwork, resp.StatusCode))
	}
	return nil
}

// PostAppend implements gateway.RestGateway.
func (c *Client) PostAppend(ctx context.Context, obj string, data []byte, attrs gateway.Attrs) error {
	path, err := c.objectPath(obj)
	if err != nil {
		return kamakierr.New("upload_append", obj, err)
	}

	headers := attrsToHeaders(attrs)
	query := url.Values{"update": nil}

	resp, err := c.request(ctx, http.MethodPost, path, query, headers, data)
	if err != nil {
		return kamakierr.New("upload_append", obj, err)
	}
	if _, err := readAndClose(resp); err != nil {
		return kamakierr.New("upload_append", obj, err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return kamakierr.New("upload_append", obj, fmt.Errorf("%w: unexpected status %d", kamakierr.ErrNetwork, resp.StatusCode))
	}
	return nil
}

// methodCopy and methodMove are not in net/http's verb set; the
// Pithos wire protocol defines them as WebDAV-style extension methods.
const (
	methodCopy = "COPY"
	methodMove = "MOVE"
)

// Copy implements gateway.RestGateway.
func (c *Client) Copy(ctx context.Context, src, dst string, attrs gateway.Attrs) error {
	return c.copyMove(ctx, methodCopy, "copy", src, dst, attrs)
}

// Move implements gateway.RestGateway.
func (c *Client) Move(ctx context.Context, src, dst string, attrs gateway.Attrs) error {
	return c.copyMove(ctx, methodMove, "move", src, dst, attrs)
}

func (c *Client) copyMove(ctx context.Context, method, op, src, dst string, attrs gateway.Attrs) error {
	srcPath, err := c.objectPath(src)
	if err != nil {
		return kamakierr.New(op, src, err)
	}
	_, container, err := c.accountContainer()
	if err != nil {
		return kamakierr.New(op, src, err)
	}

	headers := attrsToHeaders(attrs)
	headers.Set("Destination", fmt.Sprintf("/%s/%s", container, dst))

	resp, err := c.request(ctx, method, srcPath, nil, headers, nil)
	if err != nil {
		return kamakierr.New(op, src, err)
	}
	if _, err := readAndClose(resp); err != nil {
		return kamakierr.New(op, src, err)
	}
	if resp.StatusCode != http.StatusCreated {
		return kamakierr.New(op, src, fmt.Errorf("%w: unexpected status %d", kamakierr.ErrNetwork, resp.StatusCode))
	}
	return nil
}

func attrsToHeaders(attrs gateway.Attrs) http.Header {
	h := http.Header{}
	if attrs.ETag != "" {
		h.Set("ETag", attrs.ETag)
	}
	if attrs.ContentType != "" {
		h.Set("Content-Type", attrs.ContentType)
	}
	if attrs.ContentEncoding != "" {
		h.Set("Content-Encoding", attrs.ContentEncoding)
	}
	if attrs.ContentDisposition != "" {
		h.Set("Content-Disposition", attrs.ContentDisposition)
	}
	if len(attrs.Sharing.Read) > 0 || len(attrs.Sharing.Write) > 0 {
		h.Set("X-Object-Sharing", formatSharing(attrs.Sharing))
	}
	if attrs.Public {
		h.Set("X-Object-Public", "true")
	}
	if attrs.Version != "" {
		h.Set("X-Object-Version", attrs.Version)
	}
	if attrs.IfMatch != "" {
		h.Set("If-Match", attrs.IfMatch)
	}
	if attrs.IfNoneMatch != "" {
		h.Set("If-None-Match", attrs.IfNoneMatch)
	}
	if attrs.IfModifiedSince != "" {
		h.Set("If-Modified-Since", attrs.IfModifiedSince)
	}
	if attrs.IfUnmodifiedSince != "" {
		h.Set("If-Unmodified-Since", attrs.IfUnmodifiedSince)
	}
	if attrs.SourceVersion != "" {
		h.Set("X-Source-Version", attrs.SourceVersion)
	}
	if attrs.Manifest != "" {
		h.Set("X-Object-Manifest", attrs.Manifest)
	}
	if attrs.ContentRange != "" {
		h.Set("Content-Range", attrs.ContentRange)
	}
	return h
}

func condsToHeaders(conds gateway.Conds) http.Header {
	h := http.Header{}
	if conds.IfMatch != "" {
		h.Set("If-Match", conds.IfMatch)
	}
	if conds.IfNoneMatch != "" {
		h.Set("If-None-Match", conds.IfNoneMatch)
	}
	if conds.IfModifiedSince != "" {
		h.Set("If-Modified-Since", conds.IfModifiedSince)
	}
	if conds.IfUnmodifiedSince != "" {
		h.Set("If-Unmodified-Since", conds.IfUnmodifiedSince)
	}
	return h
}

func formatSharing(s gateway.Sharing) string {
	var parts []string
	if len(s.Read) > 0 {
		parts = append(parts, "read="+strings.Join(s.Read, ","))
	}
	if len(s.Write) > 0 {
		parts = append(parts, "write="+strings.Join(s.Write, ","))
	}
	return strings.Join(parts, ";")
}

// ParseSharing parses an X-Object-Sharing header value into a Sharing
// value. An empty header means no sharing. A Go equivalent of the
// original Python client's get_object_sharing helper.
func ParseSharing(header string) (gateway.Sharing, error) {
	var s gateway.Sharing
	header = strings.TrimSpace(header)
	if header == "" {
		return s, nil
	}
	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			return gateway.Sharing{}, fmt.Errorf("%w: malformed sharing clause %q", kamakierr.ErrFormat, part)
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		var accounts []string
		if val != "" {
			accounts = strings.Split(val, ",")
		}
		switch key {
		case "read":
			s.Read = accounts
		case "write":
			s.Write = accounts
		default:
			return gateway.Sharing{}, fmt.Errorf("%w: unknown sharing key %q", kamakierr.ErrFormat, key)
		}
	}
	return s, nil
}

// ParseMeta extracts the X-{prefix}-Meta-* headers, the
// X-{prefix}-Policy-{Quota,Versioning} headers, and the X-Object-Sharing
// and X-Object-Public headers from header into an ObjectMeta.
func ParseMeta(header http.Header, prefix string) gateway.ObjectMeta {
	meta := gateway.ObjectMeta{Meta: map[string]string{}}
	metaPrefix := fmt.Sprintf("X-%s-Meta-", prefix)
	for k, vs := range header {
		if len(vs) == 0 {
			continue
		}
		if strings.HasPrefix(strings.ToLower(k), strings.ToLower(metaPrefix)) {
			key := k[len(metaPrefix):]
			meta.Meta[key] = vs[0]
			continue
		}
	}
	if v := header.Get(fmt.Sprintf("X-%s-Policy-Quota", prefix)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			meta.PolicyQuota = n
		}
	}
	meta.PolicyVersioning = header.Get(fmt.Sprintf("X-%s-Policy-Versioning", prefix))
	if sharing := header.Get("X-Object-Sharing"); sharing != "" {
		if s, err := ParseSharing(sharing); err == nil {
			meta.Sharing = s
		}
	}
	if header.Get("X-Object-Public") != "" {
		meta.Public = true
	}
	return meta
}
