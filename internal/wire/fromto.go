package wire

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a FromTo as the two-element [from, to] array the wire
// format uses, rather than as a {"from":...,"to":...} object.
func (ft FromTo) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{ft.From, ft.To})
}

// UnmarshalJSON decodes a [from, to] array into a FromTo.
func (ft *FromTo) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decoding (from, to) pair: %w", err)
	}
	ft.From, ft.To = pair[0], pair[1]
	return nil
}
