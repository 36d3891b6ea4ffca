package protect

import (
	"fmt"

	protectcommand "github.com/goliatone/go-protect/command"
	protectquery "github.com/goliatone/go-protect/query"
)

// LedgerService is the GateKeeper surface the facade drives: the
// registrar-facing writes plus the read-side status and flag views.
type LedgerService interface {
	protectcommand.LedgerService
	protectquery.StatusReader
	protectquery.FlagReader
}

type Commands struct {
	PreRegister                *protectcommand.PreRegisterCommand
	CompleteRegistration       *protectcommand.CompleteRegistrationCommand
	UpdateFlags                *protectcommand.UpdateFlagsCommand
	PreAuthorizeUpgrade        *protectcommand.PreAuthorizeUpgradeCommand
	DispatchProtectedCall      *protectcommand.DispatchProtectedCallCommand
	OverrideAuthorization      *protectcommand.OverrideAuthorizationCommand
	OverrideRegistration       *protectcommand.OverrideRegistrationCommand
	OverrideAuthorizationBatch *protectcommand.OverrideAuthorizationBatchCommand
	OverrideRegistrationBatch  *protectcommand.OverrideRegistrationBatchCommand
}

type Queries struct {
	GetStatus  *protectquery.GetStatusQuery
	QueryFlag  *protectquery.QueryFlagQuery
	QueryFlags *protectquery.QueryFlagsQuery
}

// Facade bundles the command and query handlers for one deployment so
// callers wire the router and ledger once and dispatch messages from
// anywhere.
type Facade struct {
	router   protectcommand.RouterService
	ledger   LedgerService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	flagReader protectquery.FlagReader
}

// WithFlagReader swaps the read path for protection flags, typically for
// a cache-backed store in front of the ledger.
func WithFlagReader(reader protectquery.FlagReader) FacadeOption {
	return func(options *facadeOptions) {
		options.flagReader = reader
	}
}

func NewFacade(router protectcommand.RouterService, ledger LedgerService, opts ...FacadeOption) (*Facade, error) {
	if router == nil {
		return nil, fmt.Errorf("protect: router service is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("protect: ledger service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	flagReader := protectquery.FlagReader(ledger)
	if cfg.flagReader != nil {
		flagReader = cfg.flagReader
	}

	facade := &Facade{router: router, ledger: ledger}
	facade.commands = Commands{
		PreRegister:                protectcommand.NewPreRegisterCommand(ledger),
		CompleteRegistration:       protectcommand.NewCompleteRegistrationCommand(router),
		UpdateFlags:                protectcommand.NewUpdateFlagsCommand(ledger),
		PreAuthorizeUpgrade:        protectcommand.NewPreAuthorizeUpgradeCommand(ledger),
		DispatchProtectedCall:      protectcommand.NewDispatchProtectedCallCommand(router),
		OverrideAuthorization:      protectcommand.NewOverrideAuthorizationCommand(router),
		OverrideRegistration:       protectcommand.NewOverrideRegistrationCommand(router),
		OverrideAuthorizationBatch: protectcommand.NewOverrideAuthorizationBatchCommand(router),
		OverrideRegistrationBatch:  protectcommand.NewOverrideRegistrationBatchCommand(router),
	}
	facade.queries = Queries{
		GetStatus:  protectquery.NewGetStatusQuery(ledger),
		QueryFlag:  protectquery.NewQueryFlagQuery(flagReader),
		QueryFlags: protectquery.NewQueryFlagsQuery(flagReader),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Router() protectcommand.RouterService {
	if f == nil {
		return nil
	}
	return f.router
}

func (f *Facade) Ledger() LedgerService {
	if f == nil {
		return nil
	}
	return f.ledger
}
