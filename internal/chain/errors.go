package chain

import (
	"encoding/json"
	"fmt"
)

// CustomErrorCode extracts the custom program error code from a failed
// outcome. Ledger errors arrive as the JSON shape
// {"InstructionError": [index, {"Custom": code}]}; callers pattern-match
// specific codes (slippage tolerance exceeded) to trigger a scoped
// rebuild, every other code being non-recoverable for the attempt.
func (o Outcome) CustomErrorCode() (uint32, bool) {
	return customErrorCode(o.TxErr)
}

// Err renders the outcome's transaction error as a Go error.
func (o Outcome) Err() error {
	if o.TxErr == nil {
		return nil
	}
	if code, ok := o.CustomErrorCode(); ok {
		return fmt.Errorf("instruction error: custom program error %d", code)
	}
	return fmt.Errorf("transaction error: %v", o.TxErr)
}

func customErrorCode(txErr interface{}) (uint32, bool) {
	m, ok := txErr.(map[string]interface{})
	if !ok {
		return 0, false
	}
	ie, ok := m["InstructionError"]
	if !ok {
		return 0, false
	}
	pair, ok := ie.([]interface{})
	if !ok || len(pair) != 2 {
		return 0, false
	}
	detail, ok := pair[1].(map[string]interface{})
	if !ok {
		return 0, false
	}
	custom, ok := detail["Custom"]
	if !ok {
		return 0, false
	}
	switch v := custom.(type) {
	case float64:
		return uint32(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return uint32(n), true
	case int:
		return uint32(v), true
	case uint32:
		return v, true
	default:
		return 0, false
	}
}
