// Package ans_client looks up primary names on the Aptos Names service.
package ans_client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/banool/pictionaryd/clients"
)

const (
	MainnetBaseURL = "https://www.aptosnames.com/api/mainnet/v1"
	TestnetBaseURL = "https://www.aptosnames.com/api/testnet/v1"

	primaryNamePattern = "/primary-name/%s"
)

type AnsClient struct {
	*clients.BaseClient
}

func NewAnsClient(baseURL string) *AnsClient {
	return &AnsClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
}

type primaryNameResponse struct {
	Name string `json:"name"`
}

// GetPrimaryName resolves an address to its primary name. Addresses with no
// name return empty, not an error.
func (c *AnsClient) GetPrimaryName(ctx context.Context, address string) (string, error) {
	body, err := c.Get(ctx, fmt.Sprintf(primaryNamePattern, address))
	if err != nil {
		if clients.IsStatus(err, http.StatusNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get primary name: %w", err)
	}

	var resp primaryNameResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal primary name response: %w, raw response: %s", err, string(body))
	}

	return resp.Name, nil
}
