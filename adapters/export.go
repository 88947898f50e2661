package adapters

import (
	"fmt"

	"github.com/abema/curlb/core"
	"github.com/abema/curlb/internal/file"
)

// BodyExporter writes the response body verbatim to name, replacing any previous content.
func BodyExporter(name string) core.OnResultHandler {
	return func(result *core.Result) error {
		if err := file.WriteFile(name, result.Body); err != nil {
			return fmt.Errorf("failed to write out: %s: %w", name, err)
		}
		return nil
	}
}
