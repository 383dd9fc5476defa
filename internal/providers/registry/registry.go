package registry

import (
	"net/http"

	"github.com/efugier/pipelm/internal/configfile"
	"github.com/efugier/pipelm/internal/providers"
	"github.com/efugier/pipelm/internal/providers/openai_compat"
	"github.com/efugier/pipelm/internal/providers/unsupported"
)

type BuildOptions struct {
	API        configfile.API
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// Supported lists the apis that speak the OpenAI chat completions format.
func Supported() []string {
	return []string{configfile.APIOpenAI.String(), configfile.APIMistral.String()}
}

func IsSupported(api configfile.API) bool {
	for _, s := range Supported() {
		if s == api.String() {
			return true
		}
	}
	return false
}

func Build(opts BuildOptions) (providers.Provider, error) {
	switch opts.API {
	case configfile.APIOpenAI, configfile.APIMistral:
		return openai_compat.New(openai_compat.Config{
			URL:        opts.URL,
			APIKey:     opts.APIKey,
			HTTPClient: opts.HTTPClient,
		}), nil

	case configfile.APIAnthropic, configfile.APIGroq, configfile.APIOllama:
		return unsupported.New(opts.API.String(), Supported()), nil

	default:
		return nil, &providers.UnsupportedProviderError{Requested: opts.API.String(), Supported: Supported()}
	}
}
