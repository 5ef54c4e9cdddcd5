package chain

import (
	"context"
	"fmt"

	"github.com/banool/pictionaryd/clients/signer_client"
	"github.com/banool/pictionaryd/internal/game"
)

// ServiceSigner satisfies Signer by delegating to the external signing
// service the session was paired with.
type ServiceSigner struct {
	client  *signer_client.SignerClient
	address game.Address
}

func NewServiceSigner(client *signer_client.SignerClient, address game.Address) *ServiceSigner {
	return &ServiceSigner{
		client:  client,
		address: address,
	}
}

func (s *ServiceSigner) Address() game.Address {
	return s.address
}

func (s *ServiceSigner) SignTransaction(ctx context.Context, payload []byte) ([]byte, error) {
	signed, err := s.client.SignTransaction(ctx, signer_client.SignRequest{
		Sender:  string(s.address),
		Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("signing service error: %w", err)
	}
	return signed, nil
}
