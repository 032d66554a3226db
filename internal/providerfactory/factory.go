// internal/providerfactory/factory.go
package providerfactory

import (
	"fmt"

	"github.com/mwiater/tokentrace/internal/appconfig"
	"github.com/mwiater/tokentrace/internal/logging"
	"github.com/mwiater/tokentrace/internal/providers"
	"github.com/mwiater/tokentrace/internal/providers/llamacpp"
	"github.com/mwiater/tokentrace/internal/providers/ollama"
)

// NewGenerator selects the generator implementation for host based on its
// type. An empty type means llama.cpp.
func NewGenerator(host appconfig.Host, cfg appconfig.Config) (providers.Generator, error) {
	hostType, err := appconfig.NormalizeHostType(host.Type)
	if err != nil {
		return nil, fmt.Errorf("host %s: %w", host.Identifier(), err)
	}

	logging.Debug("generator selected", "host", host.Identifier(), "type", hostType, "model", host.Model())
	switch hostType {
	case "ollama":
		return ollama.New(host, cfg), nil
	default:
		return llamacpp.New(host, cfg), nil
	}
}
