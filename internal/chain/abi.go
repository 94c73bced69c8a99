package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/otcdesk/internal/domain"
)

const exchangeABIJSON = `[
  {"type":"function","name":"orderCounter","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getOrder","stateMutability":"view",
   "inputs":[{"name":"orderId","type":"uint256"}],
   "outputs":[
     {"name":"owner","type":"address"},
     {"name":"sellToken","type":"address"},
     {"name":"sellAmount","type":"uint256"},
     {"name":"buyTokenIndexes","type":"uint256[]"},
     {"name":"buyAmounts","type":"uint256[]"},
     {"name":"expirationTime","type":"uint256"},
     {"name":"status","type":"uint8"},
     {"name":"remainingExecutionPercentage","type":"uint256"},
     {"name":"lastUpdateTime","type":"uint256"}]},
  {"type":"function","name":"executeOrder","stateMutability":"payable",
   "inputs":[
     {"name":"orderId","type":"uint256"},
     {"name":"tokenIndex","type":"uint256"},
     {"name":"amount","type":"uint256"}],
   "outputs":[]},
  {"type":"event","name":"OrderExecuted","anonymous":false,"inputs":[
     {"name":"orderId","type":"uint256","indexed":true},
     {"name":"executor","type":"address","indexed":true},
     {"name":"tokenIndex","type":"uint256","indexed":false},
     {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"OrderUpdated","anonymous":false,"inputs":[
     {"name":"orderId","type":"uint256","indexed":true},
     {"name":"owner","type":"address","indexed":true}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

var (
	exchangeABI = mustParse(exchangeABIJSON)
	erc20ABI    = mustParse(erc20ABIJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// rawOrder mirrors the getOrder output list field for field.
type rawOrder struct {
	Owner                        common.Address
	SellToken                    common.Address
	SellAmount                   *big.Int
	BuyTokenIndexes              []*big.Int
	BuyAmounts                   []*big.Int
	ExpirationTime               *big.Int
	Status                       uint8
	RemainingExecutionPercentage *big.Int
	LastUpdateTime               *big.Int
}

// decodeOrder turns getOrder return data into an OrderRecord. Any shape
// problem is reported as ErrMalformedRecord; an empty slot (zero owner) is
// ErrOrderNotFound.
func decodeOrder(id *big.Int, data []byte) (domain.OrderRecord, error) {
	var raw rawOrder
	if err := exchangeABI.UnpackIntoInterface(&raw, "getOrder", data); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("%w: order %s: %v", domain.ErrMalformedRecord, id, err)
	}
	if raw.Owner == (common.Address{}) {
		return domain.OrderRecord{}, fmt.Errorf("%w: order %s", domain.ErrOrderNotFound, id)
	}
	if len(raw.BuyTokenIndexes) != len(raw.BuyAmounts) {
		return domain.OrderRecord{}, fmt.Errorf("%w: order %s: %d buy indexes vs %d amounts",
			domain.ErrMalformedRecord, id, len(raw.BuyTokenIndexes), len(raw.BuyAmounts))
	}
	status := domain.OrderStatus(raw.Status)
	if !status.Valid() {
		return domain.OrderRecord{}, fmt.Errorf("%w: order %s: status %d", domain.ErrMalformedRecord, id, raw.Status)
	}
	if raw.RemainingExecutionPercentage == nil || raw.RemainingExecutionPercentage.Cmp(domain.PercentScale) > 0 {
		return domain.OrderRecord{}, fmt.Errorf("%w: order %s: remaining percentage out of range", domain.ErrMalformedRecord, id)
	}

	legs := make([]domain.BuyLeg, len(raw.BuyAmounts))
	for i := range raw.BuyAmounts {
		legs[i] = domain.BuyLeg{
			TokenIndex: raw.BuyTokenIndexes[i],
			Amount:     raw.BuyAmounts[i],
		}
	}

	return domain.OrderRecord{
		OrderID:                      new(big.Int).Set(id),
		Owner:                        raw.Owner,
		SellToken:                    raw.SellToken,
		SellAmount:                   raw.SellAmount,
		BuyLegs:                      legs,
		ExpirationTime:               raw.ExpirationTime.Int64(),
		Status:                       status,
		RemainingExecutionPercentage: raw.RemainingExecutionPercentage,
		LastUpdateTime:               raw.LastUpdateTime.Int64(),
	}, nil
}

// ApproveCall builds an ERC-20 approve(spender, amount) call on token.
func ApproveCall(token, spender common.Address, amount *big.Int) (domain.TxCall, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return domain.TxCall{}, fmt.Errorf("chain: pack approve: %w", err)
	}
	return domain.TxCall{To: token, Data: data}, nil
}

// ExecuteCall builds executeOrder(orderId, tokenIndex, amount) on the
// exchange. value is attached only when the funding leg is the native token.
func ExecuteCall(exchange common.Address, orderID, tokenIndex, amount, value *big.Int) (domain.TxCall, error) {
	data, err := exchangeABI.Pack("executeOrder", orderID, tokenIndex, amount)
	if err != nil {
		return domain.TxCall{}, fmt.Errorf("chain: pack executeOrder: %w", err)
	}
	return domain.TxCall{To: exchange, Data: data, Value: value}, nil
}
