package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dvault/internal/dv"
)

// Pinata endpoints used when the configuration leaves them empty.
const (
	DefaultPinataAPIURL  = "https://api.pinata.cloud"
	DefaultPinataGateway = "https://gateway.pinata.cloud/ipfs"
)

// ErrTokenExpired is returned by Put when the Pinata JWT has expired.
var ErrTokenExpired = errors.New("pinata token expired")

// PinataStore pins content to IPFS through the Pinata API and resolves it
// through an IPFS gateway. Content addresses are IPFS CIDs.
type PinataStore struct {
	jwt     string
	apiURL  string
	gateway string
	client  *http.Client
	clock   dv.Clock
}

var _ dv.ContentStore = (*PinataStore)(nil)

// NewPinataStore creates a store authenticating with token. Empty apiURL and
// gateway fall back to the public Pinata endpoints.
func NewPinataStore(token, apiURL, gateway string, client *http.Client, clock dv.Clock) (*PinataStore, error) {
	if token == "" {
		return nil, fmt.Errorf("pinata content store requires pinata_jwt (or DVAULT_PINATA_JWT) to be set")
	}
	if apiURL == "" {
		apiURL = DefaultPinataAPIURL
	}
	if gateway == "" {
		gateway = DefaultPinataGateway
	}
	if client == nil {
		client = &http.Client{}
	}
	return &PinataStore{
		jwt:     token,
		apiURL:  strings.TrimRight(apiURL, "/"),
		gateway: strings.TrimRight(gateway, "/"),
		client:  client,
		clock:   clock,
	}, nil
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Put uploads r as multipart field "file" to pinFileToIPFS and returns the CID.
func (p *PinataStore) Put(ctx context.Context, r io.Reader, size int64, name string) (string, error) {
	if err := p.checkToken(); err != nil {
		return "", err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, r, size, name))
	}()
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/pinning/pinFileToIPFS", pr)
	if err != nil {
		return "", fmt.Errorf("creating pin request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.jwt)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinning %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("pinning %s: %s: %s", name, resp.Status, strings.TrimSpace(string(body)))
	}

	var pin pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pin); err != nil {
		return "", fmt.Errorf("decoding pin response: %w", err)
	}
	if pin.IpfsHash == "" {
		return "", fmt.Errorf("pin response for %s has no IpfsHash", name)
	}
	return pin.IpfsHash, nil
}

func writeMultipart(mw *multipart.Writer, r io.Reader, size int64, name string) error {
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	n, err := io.Copy(part, r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if err := checkSize(size, n); err != nil {
		return err
	}
	return mw.Close()
}

// Resolve fetches the content through the gateway.
func (p *PinataStore) Resolve(ctx context.Context, cid string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(cid), nil)
	if err != nil {
		return nil, fmt.Errorf("creating gateway request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", cid, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrContentNotFound, cid)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: gateway returned %s", cid, resp.Status)
	}
	return resp.Body, nil
}

// URL returns <gateway>/<cid>.
func (p *PinataStore) URL(cid string) string {
	return p.gateway + "/" + url.PathEscape(cid)
}

// checkToken fails early when the JWT carries an expiry in the past.
// The signature is not verified: only Pinata can do that.
func (p *PinataStore) checkToken() error {
	token, _, err := jwt.NewParser().ParseUnverified(p.jwt, jwt.MapClaims{})
	if err != nil {
		// Pinata also issues opaque API keys; leave those to the server.
		return nil
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if now := p.clock.Now(); !now.Before(exp.Time) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, exp.Time.UTC().Format(time.RFC3339))
	}
	return nil
}
