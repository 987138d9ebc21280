package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
)

// RemoteChecker reads status from a running server's status endpoint.
type RemoteChecker struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewRemoteChecker(baseURL, token string, client *http.Client) *RemoteChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteChecker{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		http:    client,
	}
}

func (r *RemoteChecker) Status(ctx context.Context, q Query) (purchasedomain.PaymentStatus, error) {
	params := url.Values{}
	if q.Gateway != "" {
		params.Set("gateway", q.Gateway)
	}
	if q.GameID != "" {
		params.Set("game_id", q.GameID)
	}
	endpoint := r.baseURL + "/api/purchases/" + url.PathEscape(q.GatewayOrderID) + "/status"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", purchasedomain.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		Data StatusView `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if !body.Data.Status.Valid() {
		return "", fmt.Errorf("unexpected status %q", body.Data.Status)
	}
	return body.Data.Status, nil
}
