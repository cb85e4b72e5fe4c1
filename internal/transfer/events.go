package transfer

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/bignum"
)

// eventJSONPrefix is the standards-event envelope prefix, spec.md §4.5.
// Payloads are tiny (a handful of fields); encoding/json is used rather
// than a third-party decoder since nothing in the retrieval pack was
// adopted specifically for throughput-sensitive small-object JSON
// decoding in this shape — see DESIGN.md.
const eventJSONPrefix = "EVENT_JSON:"

// standardEvent is the common envelope `{"standard":..,"event":..,"data":[...]}`.
type standardEvent struct {
	Standard string            `json:"standard"`
	Event    string            `json:"event"`
	Version  string            `json:"version"`
	Data     []json.RawMessage `json:"data"`
}

// ftTransferData is one entry of an nep141 ft_transfer event's data array.
type ftTransferData struct {
	OldOwnerID string `json:"old_owner_id"`
	NewOwnerID string `json:"new_owner_id"`
	Amount     string `json:"amount"`
	Memo       string `json:"memo"`
}

// mtTransferData is one entry of an nep245 mt_transfer-family event's
// data array (mt_transfer, mt_burn/withdraw, mt_mint/deposit share this
// shape closely enough to parse uniformly).
type mtTransferData struct {
	OldOwnerID string   `json:"old_owner_id"`
	NewOwnerID string   `json:"new_owner_id"`
	TokenIDs   []string `json:"token_ids"`
	Amounts    []string `json:"amounts"`
	Memo       string   `json:"memo"`
}

// parsedEvent is the outcome of parsing a single log line as a
// standards-event, used internally by the extractor before it is turned
// into Details relative to the account being reconciled.
type parsedEvent struct {
	standard string
	event    string
	ft       []ftTransferData
	mt       []mtTransferData
}

// parseEventJSON parses a single log line as an `EVENT_JSON:{...}`
// envelope. ok is false for any log that isn't this schema or fails to
// parse — per spec.md §7, a parse failure on one log must not affect
// any other log in the same outcome.
func parseEventJSON(log string) (parsedEvent, bool) {
	if !strings.HasPrefix(log, eventJSONPrefix) {
		return parsedEvent{}, false
	}
	raw := strings.TrimPrefix(log, eventJSONPrefix)
	var env standardEvent
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return parsedEvent{}, false
	}

	out := parsedEvent{standard: env.Standard, event: env.Event}
	switch env.Event {
	case "ft_transfer":
		for _, d := range env.Data {
			var ft ftTransferData
			if json.Unmarshal(d, &ft) == nil {
				out.ft = append(out.ft, ft)
			}
		}
	case "mt_transfer", "mt_burn", "mt_mint":
		for _, d := range env.Data {
			var mt mtTransferData
			if json.Unmarshal(d, &mt) == nil {
				out.mt = append(out.mt, mt)
			}
		}
	default:
		return parsedEvent{}, false
	}
	return out, true
}

// parsePlainTextTransfer matches the mandatory plain-text fallback log
// schema, spec.md §4.5: `Transfer <amount> from <account> to <account>`,
// case-sensitive, whitespace-separated (the canonical wrapped-native
// token contract emits only this form).
func parsePlainTextTransfer(log string) (amount *big.Int, from, to string, ok bool) {
	fields := strings.Fields(log)
	if len(fields) != 6 {
		return nil, "", "", false
	}
	if fields[0] != "Transfer" || fields[2] != "from" || fields[4] != "to" {
		return nil, "", "", false
	}
	n, err := bignum.Parse(fields[1])
	if err != nil {
		return nil, "", "", false
	}
	return n, fields[3], fields[5], true
}

// mtMemoForEvent distinguishes withdraw/refund/generic memo text for
// intents transfers, spec.md §4.5.
func mtMemoForEvent(event, rawMemo string) string {
	switch event {
	case "mt_burn":
		return "withdraw"
	case "mt_mint":
		if strings.Contains(strings.ToLower(rawMemo), "refund") {
			return "refund"
		}
		return "deposit"
	default:
		return rawMemo
	}
}
