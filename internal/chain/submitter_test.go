package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banool/pictionaryd/clients/aptos_client"
	"github.com/banool/pictionaryd/internal/canvas"
	"github.com/banool/pictionaryd/internal/game"
)

type stubSigner struct {
	address  game.Address
	payloads [][]byte
	err      error
}

func (s *stubSigner) Address() game.Address {
	return s.address
}

func (s *stubSigner) SignTransaction(_ context.Context, payload []byte) ([]byte, error) {
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	if s.err != nil {
		return nil, s.err
	}
	return []byte("signed-bcs"), nil
}

// fullnodeStub accepts submissions and reports them executed.
func fullnodeStub(t *testing.T, success bool, vmStatus string) (*httptest.Server, *[][]byte) {
	t.Helper()
	var submitted [][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/transactions":
			body, _ := io.ReadAll(r.Body)
			submitted = append(submitted, body)
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, `{"hash":"0xfeed"}`)
		case r.Method == http.MethodGet:
			fmt.Fprintf(w, `{"type":"user_transaction","hash":"0xfeed","success":%t,"vm_status":"%s"}`, success, vmStatus)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	return server, &submitted
}

func newTestSubmitter(server *httptest.Server, signer Signer) *Submitter {
	client := aptos_client.NewAptosClient(server.URL, testContract, clockwork.NewFakeClock())
	return NewSubmitter(client, testCreator, signer)
}

func TestSubmitter_SubmitDeltasSignsAndExecutes(t *testing.T) {
	server, submitted := fullnodeStub(t, true, "Executed successfully")
	defer server.Close()

	signer := &stubSigner{address: "0xa1"}
	sub := newTestSubmitter(server, signer)

	err := sub.SubmitDeltas(context.Background(), game.Team0,
		[]uint16{32639, 7}, []canvas.Color{canvas.ColorRed, canvas.ColorBlack})
	require.NoError(t, err)

	require.Len(t, signer.payloads, 1)
	var payload aptos_client.EntryFunction
	require.NoError(t, json.Unmarshal(signer.payloads[0], &payload))
	assert.Equal(t, testContract+"::pictionary::draw", payload.Function)
	assert.Equal(t, "entry_function_payload", payload.Type)
	require.Len(t, payload.Arguments, 4)
	assert.Equal(t, string(testCreator), payload.Arguments[0])

	require.Len(t, *submitted, 1)
	assert.Equal(t, []byte("signed-bcs"), (*submitted)[0])
}

func TestSubmitter_SubmitGuess(t *testing.T) {
	server, _ := fullnodeStub(t, true, "Executed successfully")
	defer server.Close()

	signer := &stubSigner{address: "0xa0"}
	sub := newTestSubmitter(server, signer)

	require.NoError(t, sub.SubmitGuess(context.Background(), "walrus"))

	var payload aptos_client.EntryFunction
	require.NoError(t, json.Unmarshal(signer.payloads[0], &payload))
	assert.Equal(t, testContract+"::pictionary::guess", payload.Function)
	assert.Equal(t, []any{string(testCreator), "walrus"}, payload.Arguments)
}

func TestSubmitter_VMAbortSurfacesAsError(t *testing.T) {
	server, _ := fullnodeStub(t, false, "Move abort: round already finished")
	defer server.Close()

	sub := newTestSubmitter(server, &stubSigner{address: "0xa1"})
	err := sub.SubmitDeltas(context.Background(), game.Team0, []uint16{1}, []canvas.Color{canvas.ColorRed})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborted")
	assert.Contains(t, err.Error(), "round already finished")
}

func TestSubmitter_SpectatorModeRefuses(t *testing.T) {
	server, _ := fullnodeStub(t, true, "")
	defer server.Close()

	sub := newTestSubmitter(server, nil)

	assert.False(t, sub.CanSubmit())
	_, ok := sub.Sender()
	assert.False(t, ok)

	err := sub.SubmitDeltas(context.Background(), game.Team0, []uint16{1}, []canvas.Color{canvas.ColorRed})
	assert.ErrorIs(t, err, ErrNoSigner)
	assert.ErrorIs(t, sub.SubmitGuess(context.Background(), "walrus"), ErrNoSigner)
}

func TestSubmitter_EmptyInputsRejected(t *testing.T) {
	server, _ := fullnodeStub(t, true, "")
	defer server.Close()

	sub := newTestSubmitter(server, &stubSigner{address: "0xa1"})

	assert.Error(t, sub.SubmitDeltas(context.Background(), game.Team0, nil, nil))
	assert.Error(t, sub.SubmitGuess(context.Background(), ""))
}
