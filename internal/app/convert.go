package app

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/otcdesk/internal/catalog"
	"github.com/alanyoungcy/otcdesk/internal/chain"
	"github.com/alanyoungcy/otcdesk/internal/config"
	"github.com/alanyoungcy/otcdesk/internal/executor"
	"github.com/alanyoungcy/otcdesk/internal/pricefeed"
	"github.com/alanyoungcy/otcdesk/internal/tokens"
	"github.com/alanyoungcy/otcdesk/internal/valuation"
)

func chainConfig(c config.ChainConfig) chain.Config {
	return chain.Config{
		RPCURL:             c.RPCURL,
		ChainID:            c.ChainID,
		Contract:           common.HexToAddress(c.Contract),
		RPS:                c.RPS,
		Burst:              c.Burst,
		LogChunkBlocks:     c.LogChunkBlocks,
		ReceiptPoll:        c.ReceiptPoll.Duration,
		BreakerMaxFailures: c.BreakerMaxFailures,
		BreakerInterval:    c.BreakerInterval.Duration,
		BreakerTimeout:     c.BreakerTimeout.Duration,
	}
}

func catalogConfig(c config.CatalogConfig) catalog.Config {
	return catalog.Config{
		BatchSize:    c.BatchSize,
		BatchDelay:   c.BatchDelay.Duration,
		ReadRetries:  c.ReadRetries,
		RetryBackoff: c.RetryBackoff.Duration,
	}
}

func executorConfig(c config.ExecutorConfig) executor.Config {
	return executor.Config{
		ApprovalPollAttempts: c.ApprovalPollAttempts,
		ApprovalPollInterval: c.ApprovalPollInterval.Duration,
		ConfirmationTimeout:  c.ConfirmationTimeout.Duration,
	}
}

func priceFeedConfig(c config.PriceFeedConfig) pricefeed.Config {
	return pricefeed.Config{
		BaseURL:   c.BaseURL,
		Chain:     c.Chain,
		BatchSize: c.BatchSize,
		Timeout:   c.Timeout.Duration,
	}
}

func tokenEntries(in []config.TokenConfig) []tokens.Entry {
	out := make([]tokens.Entry, len(in))
	for i, t := range in {
		out[i] = tokens.Entry{
			Index:       t.Index,
			Address:     t.Address,
			Ticker:      t.Ticker,
			Decimals:    t.Decimals,
			DisplayName: t.DisplayName,
			Domain:      t.Domain,
			Classes:     t.Classes,
			Native:      t.Native,
		}
	}
	return out
}

func valuationConfig(c config.ValuationConfig) (valuation.Config, error) {
	out := valuation.Config{
		Backing: make(map[common.Address]valuation.BackingRef, len(c.Backing)),
	}
	for _, p := range c.StablePegs {
		out.StablePegs = append(out.StablePegs, common.HexToAddress(p))
	}
	if strings.TrimSpace(c.NativeAlias) != "" {
		out.NativeAlias = common.HexToAddress(c.NativeAlias)
	}
	for _, b := range c.Backing {
		per, err := decimal.NewFromString(strings.TrimSpace(b.PerToken))
		if err != nil {
			return valuation.Config{}, fmt.Errorf("backing %s: per_token %q: %w", b.Token, b.PerToken, err)
		}
		if !per.IsPositive() {
			return valuation.Config{}, fmt.Errorf("backing %s: per_token must be positive", b.Token)
		}
		out.Backing[common.HexToAddress(b.Token)] = valuation.BackingRef{
			BackingToken: common.HexToAddress(b.BackingToken),
			PerToken:     per,
		}
	}
	return out, nil
}

func viewerAddresses(in []string) []common.Address {
	out := make([]common.Address, 0, len(in))
	for _, v := range in {
		out = append(out, common.HexToAddress(strings.TrimSpace(v)))
	}
	return out
}
