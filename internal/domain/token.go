package domain

import "github.com/ethereum/go-ethereum/common"

// TokenDescriptor is the static reference data for one token.
type TokenDescriptor struct {
	Address     common.Address `json:"address"`
	Ticker      string         `json:"ticker"`
	Decimals    int32          `json:"decimals"`
	DisplayName string         `json:"display_name"`
	// Domain names the settlement domain (chain of custody) the token
	// belongs to. Empty means unspecified.
	Domain  string   `json:"domain,omitempty"`
	Classes []string `json:"classes,omitempty"`
	Native  bool     `json:"native,omitempty"`
	Known   bool     `json:"known"`
}

// InClass reports whether the token is a member of the named class.
func (t TokenDescriptor) InClass(class string) bool {
	for _, c := range t.Classes {
		if c == class {
			return true
		}
	}
	return false
}
