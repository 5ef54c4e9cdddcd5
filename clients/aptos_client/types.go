package aptos_client

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// U64 decodes the chain's JSON encoding of u64, which is a decimal string.
// Plain numbers are accepted too for resilience against older node builds.
type U64 uint64

func (u *U64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid u64 string %q: %w", s, err)
		}
		*u = U64(v)
		return nil
	}
	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid u64 value %s", string(data))
	}
	*u = U64(n)
	return nil
}

func (u U64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

// OptionU64 decodes a Move option<u64>, serialized as {"vec":[]} or
// {"vec":["123"]}.
type OptionU64 struct {
	Vec []U64 `json:"vec"`
}

func (o OptionU64) Value() (uint64, bool) {
	if len(o.Vec) == 0 {
		return 0, false
	}
	return uint64(o.Vec[0]), true
}

// OptionU8 decodes a Move option<u8>.
type OptionU8 struct {
	Vec []uint8 `json:"vec"`
}

func (o OptionU8) Value() (uint8, bool) {
	if len(o.Vec) == 0 {
		return 0, false
	}
	return o.Vec[0], true
}

// HexBytes decodes "0x"-prefixed hex strings into raw bytes.
type HexBytes []byte

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hex bytes must be a string: %w", err)
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("invalid hex string %q: %w", s, err)
	}
	*h = decoded
	return nil
}

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(h))
}

// ViewRequest is the body of POST /v1/view.
type ViewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

// EntryFunction is the JSON form of an entry function payload, handed to
// the signing service and echoed in simulation endpoints.
type EntryFunction struct {
	Type          string   `json:"type"`
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

// GameView is the return value of pictionary::game_state.
type GameView struct {
	Team0Players   []string `json:"team0_players"`
	Team1Players   []string `json:"team1_players"`
	Team0Name      string   `json:"team0_name"`
	Team1Name      string   `json:"team1_name"`
	Team0Score     U64      `json:"team0_score"`
	Team1Score     U64      `json:"team1_score"`
	TargetScore    U64      `json:"target_score"`
	CurrentRound   U64      `json:"current_round"`
	Started        bool     `json:"started"`
	Finished       bool     `json:"finished"`
	Winner         OptionU8 `json:"winner"`
	CanvasWidth    U64      `json:"canvas_width"`
	CanvasHeight   U64      `json:"canvas_height"`
	RoundDurationS U64      `json:"round_duration_s"`
}

// RoundView is the return value of pictionary::round_state for the current
// round. The word is empty while the round is live.
type RoundView struct {
	RoundNumber     U64       `json:"round_number"`
	Word            string    `json:"word"`
	StartTimeS      U64       `json:"start_time_s"`
	DurationS       U64       `json:"duration_s"`
	Team0Guessed    bool      `json:"team0_guessed"`
	Team1Guessed    bool      `json:"team1_guessed"`
	Team0GuessTimeS OptionU64 `json:"team0_guess_time_s"`
	Team1GuessTimeS OptionU64 `json:"team1_guess_time_s"`
	Finished        bool      `json:"finished"`
}

// CanvasView is the return value of pictionary::canvas: the current round's
// pixels for one team as parallel position/color arrays.
type CanvasView struct {
	Positions []uint16 `json:"positions"`
	Colors    []uint8  `json:"colors"`
}

// PendingTransaction is the fullnode's acknowledgement of a submitted
// transaction.
type PendingTransaction struct {
	Hash string `json:"hash"`
}

// TransactionResult is the committed (or still pending) transaction record.
type TransactionResult struct {
	Type     string `json:"type"`
	Hash     string `json:"hash"`
	Success  bool   `json:"success"`
	VMStatus string `json:"vm_status"`
}

// Pending reports whether the transaction has not been executed yet.
func (t *TransactionResult) Pending() bool {
	return t.Type == "pending_transaction"
}
