package contract

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/stringstore/internal/network"
	"github.com/gateway-fm/stringstore/internal/rpc"
)

// fakeClient answers contract calls from canned values.
type fakeClient struct {
	rpc.Client

	callResult []byte
	callErr    error
	gas        uint64
	gasErr     error
	code       string

	calls []rpc.CallMsg
}

var _ rpc.Client = (*fakeClient)(nil)

func (f *fakeClient) CallContract(ctx context.Context, msg rpc.CallMsg, block string) ([]byte, error) {
	f.calls = append(f.calls, msg)
	return f.callResult, f.callErr
}

func (f *fakeClient) EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error) {
	return f.gas, f.gasErr
}

func (f *fakeClient) GetCode(ctx context.Context, address string) (string, error) {
	return f.code, nil
}

func testStore(t *testing.T, client rpc.Client) *StringStore {
	t.Helper()
	ref, err := NewRef(DefaultAddress, network.Sepolia())
	if err != nil {
		t.Fatalf("NewRef() error = %v", err)
	}
	return NewStringStore(client, ref, nil)
}

func encodeString(t *testing.T, s string) []byte {
	t.Helper()
	out, err := ABI().Methods[MethodGetMessage].Outputs.Pack(s)
	if err != nil {
		t.Fatalf("failed to pack output: %v", err)
	}
	return out
}

func revertPayload(t *testing.T, reason string) string {
	t.Helper()
	stringType, _ := abi.NewType("string", "", nil)
	body, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	if err != nil {
		t.Fatalf("failed to pack revert reason: %v", err)
	}
	selector := []byte{0x08, 0xc3, 0x79, 0xa0} // Error(string)
	return hexutil.Encode(append(selector, body...))
}

func TestABIMethods(t *testing.T) {
	a := ABI()

	get, ok := a.Methods[MethodGetMessage]
	if !ok {
		t.Fatal("getMessage missing from ABI")
	}
	if !get.IsConstant() || len(get.Inputs) != 0 || len(get.Outputs) != 1 {
		t.Errorf("getMessage has unexpected shape: %s", get.Sig)
	}

	set, ok := a.Methods[MethodSetMessage]
	if !ok {
		t.Fatal("setMessage missing from ABI")
	}
	if set.IsConstant() || set.IsPayable() || len(set.Inputs) != 1 {
		t.Errorf("setMessage has unexpected shape: %s", set.Sig)
	}
	if set.Sig != "setMessage(string)" {
		t.Errorf("setMessage Sig = %q", set.Sig)
	}
}

func TestNewRef(t *testing.T) {
	if _, err := NewRef("not-an-address", nil); err == nil {
		t.Error("expected error for invalid address")
	}

	ref, err := NewRef(DefaultAddress, nil)
	if err != nil {
		t.Fatalf("NewRef() error = %v", err)
	}
	if ref.Address != common.HexToAddress(DefaultAddress) {
		t.Errorf("Address = %s", ref.Address.Hex())
	}
	if ref.Network.ChainID != 11155111 {
		t.Errorf("default network chain id = %d, want Sepolia", ref.Network.ChainID)
	}
}

func TestGetMessage(t *testing.T) {
	tests := []struct {
		name      string
		client    *fakeClient
		want      string
		wantErr   bool
		malformed bool
	}{
		{
			name:   "value",
			client: &fakeClient{callResult: encodeString(t, "hello world")},
			want:   "hello world",
		},
		{
			name:   "empty string",
			client: &fakeClient{callResult: encodeString(t, "")},
			want:   "",
		},
		{
			name:      "no return data",
			client:    &fakeClient{callResult: []byte{}},
			wantErr:   true,
			malformed: true,
		},
		{
			name:      "truncated return data",
			client:    &fakeClient{callResult: encodeString(t, "hello")[:40]},
			wantErr:   true,
			malformed: true,
		},
		{
			name:    "transport error",
			client:  &fakeClient{callErr: errors.New("connection refused")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := testStore(t, tt.client).GetMessage(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if errors.Is(err, ErrMalformedResult) != tt.malformed {
				t.Errorf("errors.Is(err, ErrMalformedResult) = %v, want %v", !tt.malformed, tt.malformed)
			}
			if got != tt.want {
				t.Errorf("GetMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetMessageCallsContract(t *testing.T) {
	client := &fakeClient{callResult: encodeString(t, "x")}
	if _, err := testStore(t, client).GetMessage(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(client.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(client.calls))
	}
	call := client.calls[0]
	if call.To != common.HexToAddress(DefaultAddress) {
		t.Errorf("To = %s", call.To.Hex())
	}
	if call.From != (common.Address{}) {
		t.Errorf("read should not set From, got %s", call.From.Hex())
	}
	wantSelector := ABI().Methods[MethodGetMessage].ID
	if string(call.Data) != string(wantSelector) {
		t.Errorf("Data = %x, want %x", call.Data, wantSelector)
	}
}

func TestSimulateSetMessage(t *testing.T) {
	from := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	client := &fakeClient{gas: 30000}

	req, err := testStore(t, client).SimulateSetMessage(context.Background(), from, "  padded  ")
	if err != nil {
		t.Fatalf("SimulateSetMessage() error = %v", err)
	}

	if req.From != from || req.To != common.HexToAddress(DefaultAddress) {
		t.Errorf("request addresses = %s -> %s", req.From.Hex(), req.To.Hex())
	}
	if req.Gas != 30000 {
		t.Errorf("Gas = %d, want 30000", req.Gas)
	}
	if req.Value.Cmp(big.NewInt(0)) != 0 {
		t.Errorf("Value = %v, want 0", req.Value)
	}
	if req.Message != "  padded  " {
		t.Errorf("Message = %q, want untrimmed candidate", req.Message)
	}

	// Calldata must round-trip back to the exact candidate
	args, err := ABI().Methods[MethodSetMessage].Inputs.Unpack(req.Data[4:])
	if err != nil {
		t.Fatalf("failed to unpack calldata: %v", err)
	}
	if args[0].(string) != "  padded  " {
		t.Errorf("calldata arg = %q", args[0])
	}

	if len(client.calls) != 1 || client.calls[0].From != from {
		t.Errorf("simulation should be a call from the sender, got %+v", client.calls)
	}
}

func TestSimulateSetMessageRevert(t *testing.T) {
	from := common.HexToAddress("0x01")

	tests := []struct {
		name       string
		client     *fakeClient
		wantRevert bool
		wantReason string
	}{
		{
			name: "revert with reason",
			client: &fakeClient{callErr: &rpc.RPCError{
				Code: 3, Message: "execution reverted: too long", Data: revertPayload(t, "too long"),
			}},
			wantRevert: true,
			wantReason: "too long",
		},
		{
			name:       "revert without data",
			client:     &fakeClient{callErr: &rpc.RPCError{Code: -32000, Message: "execution reverted"}},
			wantRevert: true,
		},
		{
			name:       "revert during gas estimation",
			client:     &fakeClient{gasErr: &rpc.RPCError{Code: 3, Message: "execution reverted", Data: revertPayload(t, "nope")}},
			wantRevert: true,
			wantReason: "nope",
		},
		{
			name:   "insufficient funds is not a revert",
			client: &fakeClient{gasErr: &rpc.RPCError{Code: -32000, Message: "insufficient funds for gas * price + value"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := testStore(t, tt.client).SimulateSetMessage(context.Background(), from, "x")
			if err == nil {
				t.Fatal("expected error")
			}
			if req != nil {
				t.Errorf("expected nil request on failure, got %+v", req)
			}

			var revert *RevertError
			if errors.As(err, &revert) != tt.wantRevert {
				t.Fatalf("errors.As(RevertError) = %v, want %v (err = %v)", !tt.wantRevert, tt.wantRevert, err)
			}
			if tt.wantRevert && revert.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", revert.Reason, tt.wantReason)
			}

			var rpcErr *rpc.RPCError
			if !errors.As(err, &rpcErr) {
				t.Error("underlying RPC error should stay reachable")
			}
		})
	}
}

func TestIsDeployed(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"0x", false},
		{"", false},
		{"0x6080604052", true},
	}

	for _, tt := range tests {
		got, err := testStore(t, &fakeClient{code: tt.code}).IsDeployed(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("IsDeployed(code=%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
