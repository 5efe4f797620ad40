package metals

import (
	"encoding/json"
	"fmt"
	"io"
)

func decode(r io.Reader, out any) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
