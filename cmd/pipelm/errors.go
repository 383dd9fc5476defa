package main

import (
	"errors"

	"github.com/efugier/pipelm/internal/config"
	"github.com/efugier/pipelm/internal/configfile"
	"github.com/efugier/pipelm/internal/credentials"
	"github.com/efugier/pipelm/internal/prompt"
	"github.com/efugier/pipelm/internal/providers"
	"github.com/efugier/pipelm/internal/quota"
)

const (
	exitFailure     = 1
	exitConfig      = 2
	exitCredential  = 3
	exitUnsupported = 4
	exitTransport   = 5
	exitMalformed   = 6
	exitQuota       = 7
)

// exitCode is the only place where errors become process exit statuses.
func exitCode(err error) int {
	var (
		parseErr       *configfile.ParseError
		missingModel   *prompt.MissingModelError
		missingHolder  *prompt.MissingPlaceholderError
		unsupported    *providers.UnsupportedProviderError
		transport      *providers.TransportError
		malformed      *providers.MalformedResponseError
		quotaExhausted *quota.ExceededError
	)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrConfigPathUnresolvable),
		errors.Is(err, config.ErrInvalidPlaceholder),
		errors.Is(err, config.ErrInvalidUsageDriver),
		errors.Is(err, configfile.ErrUnknownAPI),
		errors.Is(err, configfile.ErrUnknownPrompt),
		errors.As(err, &parseErr),
		errors.As(err, &missingModel),
		errors.As(err, &missingHolder):
		return exitConfig
	case errors.Is(err, credentials.ErrNoCredentialConfigured),
		errors.Is(err, credentials.ErrCredentialExecutionFailed):
		return exitCredential
	case errors.As(err, &unsupported):
		return exitUnsupported
	case errors.As(err, &transport):
		return exitTransport
	case errors.As(err, &malformed):
		return exitMalformed
	case errors.As(err, &quotaExhausted):
		return exitQuota
	default:
		return exitFailure
	}
}
