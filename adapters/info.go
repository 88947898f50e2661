package adapters

import (
	"encoding/json"
	"io"

	"github.com/abema/curlb/core"
)

// InfoWriter prints the statistics as one indented JSON object with sorted keys.
func InfoWriter(w io.Writer) core.OnResultHandler {
	return func(result *core.Result) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(result.Info)
	}
}
