package stream

import (
	"encoding/json"
	"fmt"
)

// JSON returns a Handler that decodes the payload into T and passes it to
// apply. Invalid JSON is reported as an error so the frame is dropped.
func JSON[T any](apply func(T) bool) Handler {
	return func(data []byte) error {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decoding payload: %w", err)
		}
		apply(v)
		return nil
	}
}
