package core

import (
	"fmt"
	"strings"
)

// RouterConfig pins the identities the GateKeeper trusts: the router that
// may complete registrations, and the protocol operator the router acts
// for on override paths. Both are hex-encoded identities.
type RouterConfig struct {
	Identity      string `koanf:"identity" mapstructure:"identity"`
	ProtocolAdmin string `koanf:"protocol_admin" mapstructure:"protocol_admin"`
}

type Config struct {
	ServiceName string       `koanf:"service_name" mapstructure:"service_name"`
	Router      RouterConfig `koanf:"router" mapstructure:"router"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "protect",
		Router:      RouterConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if trimmed := strings.TrimSpace(c.Router.Identity); trimmed != "" {
		if _, err := IdentityFromString(trimmed); err != nil {
			return fmt.Errorf("core: router.identity: %w", err)
		}
	}
	if trimmed := strings.TrimSpace(c.Router.ProtocolAdmin); trimmed != "" {
		if _, err := IdentityFromString(trimmed); err != nil {
			return fmt.Errorf("core: router.protocol_admin: %w", err)
		}
	}
	return nil
}

// RouterIdentity decodes the configured router identity, zero when unset.
func (c Config) RouterIdentity() Identity {
	trimmed := strings.TrimSpace(c.Router.Identity)
	if trimmed == "" {
		return Identity{}
	}
	id, err := IdentityFromString(trimmed)
	if err != nil {
		return Identity{}
	}
	return id
}

// ProtocolAdminIdentity decodes the configured operator identity, zero when
// unset.
func (c Config) ProtocolAdminIdentity() Identity {
	trimmed := strings.TrimSpace(c.Router.ProtocolAdmin)
	if trimmed == "" {
		return Identity{}
	}
	id, err := IdentityFromString(trimmed)
	if err != nil {
		return Identity{}
	}
	return id
}
