package aptos_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/banool/pictionaryd/clients"
)

// AptosClient talks to an Aptos fullnode's REST API for one deployed
// pictionary contract: view-function reads, signed-transaction submission,
// and commit polling.
type AptosClient struct {
	*clients.BaseClient
	contractAddress string
	clock           clockwork.Clock
}

func NewAptosClient(baseURL, contractAddress string, clock clockwork.Clock) *AptosClient {
	client := &AptosClient{
		BaseClient:      clients.NewBaseClient(baseURL),
		contractAddress: contractAddress,
		clock:           clock,
	}

	client.SetHeader(JsonHeader, JsonContentType)

	return client
}

// ContractAddress returns the deployed module's account address.
func (c *AptosClient) ContractAddress() string {
	return c.contractAddress
}

// FunctionID builds the fully qualified function name
// <contract>::pictionary::<name>.
func (c *AptosClient) FunctionID(name string) string {
	return fmt.Sprintf("%s::%s::%s", c.contractAddress, moduleName, name)
}

// View executes a view function and returns its raw return values.
func (c *AptosClient) View(ctx context.Context, req ViewRequest) ([]json.RawMessage, error) {
	if req.TypeArguments == nil {
		req.TypeArguments = []string{}
	}
	if req.Arguments == nil {
		req.Arguments = []any{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal view request: %w", err)
	}

	respBody, err := c.Post(ctx, viewEndpoint, JsonContentType, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("view %s failed: %w", req.Function, err)
	}

	var values []json.RawMessage
	if err := json.Unmarshal(respBody, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal view response: %w, raw response: %s", err, string(respBody))
	}

	return values, nil
}

// viewOne executes a view function expected to return a single value and
// decodes it into out.
func (c *AptosClient) viewOne(ctx context.Context, name string, args []any, out any) error {
	values, err := c.View(ctx, ViewRequest{
		Function:  c.FunctionID(name),
		Arguments: args,
	})
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return fmt.Errorf("view %s returned no values", name)
	}
	if err := json.Unmarshal(values[0], out); err != nil {
		return fmt.Errorf("failed to unmarshal %s value: %w, raw value: %s", name, err, string(values[0]))
	}
	return nil
}
