package aptos_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/banool/pictionaryd/clients"
)

// txnPollInterval is how often WaitForTransaction re-checks a pending hash.
const txnPollInterval = 500 * time.Millisecond

// SubmitSignedTransaction posts a BCS-encoded signed transaction and
// returns the pending hash the fullnode assigns.
func (c *AptosClient) SubmitSignedTransaction(ctx context.Context, signedTxn []byte) (*PendingTransaction, error) {
	body, err := c.Post(ctx, transactionsEndpoint, BcsTxnContentType, bytes.NewReader(signedTxn))
	if err != nil {
		return nil, fmt.Errorf("failed to submit transaction: %w", err)
	}

	var pending PendingTransaction
	if err := json.Unmarshal(body, &pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal submit response: %w, raw response: %s", err, string(body))
	}
	if pending.Hash == "" {
		return nil, fmt.Errorf("submit response missing transaction hash: %s", string(body))
	}

	return &pending, nil
}

// GetTransactionByHash fetches one transaction record. The fullnode answers
// 404 until the transaction reaches it; callers treat that as still pending.
func (c *AptosClient) GetTransactionByHash(ctx context.Context, hash string) (*TransactionResult, error) {
	body, err := c.Get(ctx, fmt.Sprintf(transactionByHashPattern, hash))
	if err != nil {
		return nil, err
	}

	var result TransactionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w, raw response: %s", err, string(body))
	}

	return &result, nil
}

// WaitForTransaction polls until the transaction executes or ctx expires.
// The returned result may still carry Success=false; callers decide what a
// VM abort means for them.
func (c *AptosClient) WaitForTransaction(ctx context.Context, hash string) (*TransactionResult, error) {
	timer := c.clock.NewTimer(txnPollInterval)
	defer stopTimer(timer)

	for {
		result, err := c.GetTransactionByHash(ctx, hash)
		switch {
		case err == nil && !result.Pending():
			return result, nil
		case err != nil && !clients.IsStatus(err, http.StatusNotFound):
			return nil, fmt.Errorf("failed to poll transaction %s: %w", hash, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.Chan():
			timer.Reset(txnPollInterval)
		}
	}
}

func stopTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
