package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// vrfRangeABI is the read-only subset of the VRF range contract used by operators.
const vrfRangeABI = `[{"inputs":[{"internalType":"address","name":"addr","type":"address"}],"name":"getRangeByAddress","outputs":[{"internalType":"uint256","name":"start","type":"uint256"},{"internalType":"uint256","name":"end","type":"uint256"}],"stateMutability":"view","type":"function"}]`

const getRangeMethod = "getRangeByAddress"

// RangeAssignment is the half-open interval [Lower, Upper) assigned to a node.
type RangeAssignment struct {
	NodeAddress common.Address
	Lower       *big.Int
	Upper       *big.Int
}

// Contains reports whether position falls in [Lower, Upper).
func (r *RangeAssignment) Contains(position *big.Int) bool {
	if r == nil || r.Lower == nil || r.Upper == nil || position == nil {
		return false
	}
	return r.Lower.Cmp(position) <= 0 && position.Cmp(r.Upper) < 0
}

// RangeOracle returns the range assigned to an address.
type RangeOracle interface {
	GetRange(ctx context.Context, addr common.Address) (*RangeAssignment, error)
}

// VRFRangeContract reads assignments from the on-chain VRF range contract.
type VRFRangeContract struct {
	address  common.Address
	contract *bind.BoundContract
	client   *ethclient.Client
}

// NewVRFRangeContract dials rpcURL and binds the contract at contractAddr.
func NewVRFRangeContract(rpcURL, contractAddr string) (*VRFRangeContract, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return nil, fmt.Errorf("blockchain: rpc url required")
	}
	if !common.IsHexAddress(strings.TrimSpace(contractAddr)) {
		return nil, fmt.Errorf("blockchain: invalid vrf range contract address %q", contractAddr)
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("blockchain: connect rpc: %w", err)
	}

	c, err := BindVRFRange(common.HexToAddress(strings.TrimSpace(contractAddr)), client)
	if err != nil {
		client.Close()
		return nil, err
	}
	c.client = client
	return c, nil
}

// BindVRFRange binds the contract on an existing caller.
func BindVRFRange(addr common.Address, caller bind.ContractCaller) (*VRFRangeContract, error) {
	parsed, err := abi.JSON(strings.NewReader(vrfRangeABI))
	if err != nil {
		return nil, fmt.Errorf("blockchain: parse vrf range abi: %w", err)
	}
	return &VRFRangeContract{
		address:  addr,
		contract: bind.NewBoundContract(addr, parsed, caller, nil, nil),
	}, nil
}

func (c *VRFRangeContract) Address() common.Address { return c.address }

// GetRange calls getRangeByAddress(addr).
func (c *VRFRangeContract) GetRange(ctx context.Context, addr common.Address) (*RangeAssignment, error) {
	if c == nil || c.contract == nil {
		return nil, errors.New("blockchain: vrf range contract not initialised")
	}

	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, getRangeMethod, addr); err != nil {
		return nil, err
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("blockchain: %s returned %d values", getRangeMethod, len(out))
	}

	lower := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	upper := *abi.ConvertType(out[1], new(*big.Int)).(**big.Int)
	return &RangeAssignment{NodeAddress: addr, Lower: lower, Upper: upper}, nil
}

// Close releases the underlying RPC connection.
func (c *VRFRangeContract) Close() {
	if c == nil {
		return
	}
	if c.client != nil {
		c.client.Close()
	}
}
