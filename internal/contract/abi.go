package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// StringStoreABI is the interface of the deployed message contract.
const StringStoreABI = `[
	{
		"type": "function",
		"name": "getMessage",
		"inputs": [],
		"outputs": [{"name": "", "type": "string", "internalType": "string"}],
		"stateMutability": "view"
	},
	{
		"type": "function",
		"name": "setMessage",
		"inputs": [{"name": "newMessage", "type": "string", "internalType": "string"}],
		"outputs": [],
		"stateMutability": "nonpayable"
	}
]`

// Method names.
const (
	MethodGetMessage = "getMessage"
	MethodSetMessage = "setMessage"
)

// parsedABI is parsed once at init; a broken literal is a programming error.
var parsedABI = mustParseABI(StringStoreABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("contract: invalid StringStore ABI: " + err.Error())
	}
	return parsed
}

// ABI returns the parsed contract interface.
func ABI() abi.ABI {
	return parsedABI
}
