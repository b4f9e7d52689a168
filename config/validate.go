package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Validate checks the structural settings. Pool, fee and cover sections are
// validated again when converted to runtime parameters.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Pool.Name) == "" {
		return fmt.Errorf("pool.Name must not be empty")
	}
	if !common.IsHexAddress(strings.TrimSpace(cfg.Pool.SafeAddress)) {
		return fmt.Errorf("pool.SafeAddress is not a valid address")
	}
	if !common.IsHexAddress(strings.TrimSpace(cfg.Pool.OwnerAddress)) {
		return fmt.Errorf("pool.OwnerAddress is not a valid address")
	}
	seen := make(map[string]struct{}, len(cfg.Covers))
	for _, cover := range cfg.Covers {
		name := strings.TrimSpace(cover.Name)
		if name == "" {
			return fmt.Errorf("cover.Name must not be empty")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("cover %q declared twice", name)
		}
		seen[name] = struct{}{}
		if !common.IsHexAddress(strings.TrimSpace(cover.Address)) {
			return fmt.Errorf("cover %q: Address is not a valid address", name)
		}
	}
	return nil
}
