// Package signer_client talks to the external signing service that holds
// the player's keyless account material. The daemon never sees private
// keys; it sends an entry function payload and gets back signed BCS bytes.
package signer_client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/banool/pictionaryd/clients"
)

const (
	signEndpoint = "/sign"

	JsonContentType = "application/json"
)

type SignerClient struct {
	*clients.BaseClient
}

// NewSignerClient builds a client for the signing service. token is the
// opaque pairing material issued when the browser linked this daemon; it
// authenticates every request.
func NewSignerClient(baseURL string, token []byte) *SignerClient {
	client := &SignerClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	client.SetHeader("Authorization", "Bearer "+base64.StdEncoding.EncodeToString(token))

	return client
}

// SignRequest asks the service to sign one transaction payload for sender.
type SignRequest struct {
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

type signResponse struct {
	SignedTransaction string `json:"signed_transaction"`
}

// SignTransaction returns the BCS-encoded signed transaction for a payload.
func (c *SignerClient) SignTransaction(ctx context.Context, req SignRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign request: %w", err)
	}

	respBody, err := c.Post(ctx, signEndpoint, JsonContentType, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("signing service refused: %w", err)
	}

	var resp signResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sign response: %w", err)
	}

	signed, err := base64.StdEncoding.DecodeString(resp.SignedTransaction)
	if err != nil {
		return nil, fmt.Errorf("signing service returned invalid base64: %w", err)
	}
	if len(signed) == 0 {
		return nil, fmt.Errorf("signing service returned an empty transaction")
	}

	return signed, nil
}
