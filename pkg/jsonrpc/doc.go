// Package jsonrpc defines the JSON-RPC 2.0 envelopes exchanged by every transport in
// this module, together with the protocol error type and a monotonic request ID
// generator.
//
// A Request always carries a positional parameter list. Calls without parameters
// serialize as "params": [] rather than omitting the field, which is what Electrum
// servers expect:
//
//	ids := jsonrpc.NewIDGenerator()
//	req := ids.NewRequest("blockchain.scripthash.get_balance", scriptHash)
//	// {"jsonrpc":"2.0","id":1,"method":"blockchain.scripthash.get_balance","params":["8b01…"]}
//
// A Response keeps its result as raw JSON so that the caller decides the target type:
//
//	var balance struct {
//		Confirmed   int64 `json:"confirmed"`
//		Unconfirmed int64 `json:"unconfirmed"`
//	}
//	if err := res.Decode(&balance); err != nil {
//		return err
//	}
//
// A JSON-RPC error object is surfaced as *Error, so callers can tell a protocol error
// apart from a transport failure with errors.As.
package jsonrpc
