package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[PreRegisterMessage]                = (*PreRegisterCommand)(nil)
	_ gocmd.Commander[CompleteRegistrationMessage]       = (*CompleteRegistrationCommand)(nil)
	_ gocmd.Commander[UpdateFlagsMessage]                = (*UpdateFlagsCommand)(nil)
	_ gocmd.Commander[PreAuthorizeUpgradeMessage]        = (*PreAuthorizeUpgradeCommand)(nil)
	_ gocmd.Commander[DispatchProtectedCallMessage]      = (*DispatchProtectedCallCommand)(nil)
	_ gocmd.Commander[OverrideAuthorizationMessage]      = (*OverrideAuthorizationCommand)(nil)
	_ gocmd.Commander[OverrideRegistrationMessage]       = (*OverrideRegistrationCommand)(nil)
	_ gocmd.Commander[OverrideAuthorizationBatchMessage] = (*OverrideAuthorizationBatchCommand)(nil)
	_ gocmd.Commander[OverrideRegistrationBatchMessage]  = (*OverrideRegistrationBatchCommand)(nil)
)
