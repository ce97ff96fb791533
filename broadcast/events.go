package broadcast

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/defirelay/agentpay/chainrpc"
)

// RegisteredEventSignature is the topic0 of a registration event carrying
// an indexed identifier, an indexed owner address and a dynamic name.
var RegisteredEventSignature = crypto.Keccak256Hash([]byte("Registered(uint256,address,string)"))

// RegisteredEvent is the decoded form of a registration log.
type RegisteredEvent struct {
	ID    *big.Int
	Owner common.Address
	Name  string
}

// DecodeRegisteredEvent scans receipt logs for the registration event and
// decodes it: the identifier and owner come from the indexed topics, the
// name from the ABI-encoded data section.
func DecodeRegisteredEvent(logs []chainrpc.Log) (*RegisteredEvent, error) {
	for _, entry := range logs {
		if len(entry.Topics) == 0 {
			continue
		}
		if !strings.EqualFold(entry.Topics[0], RegisteredEventSignature.Hex()) {
			continue
		}
		if len(entry.Topics) < 3 {
			return nil, fmt.Errorf("registration event has %d topics, expected 3", len(entry.Topics))
		}

		id, err := decodeTopicUint(entry.Topics[1])
		if err != nil {
			return nil, fmt.Errorf("invalid id topic: %w", err)
		}
		owner, err := decodeTopicAddress(entry.Topics[2])
		if err != nil {
			return nil, fmt.Errorf("invalid owner topic: %w", err)
		}

		data, err := hexBytes(entry.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid event data: %w", err)
		}
		name, err := DecodeABIString(data)
		if err != nil {
			return nil, fmt.Errorf("invalid event name: %w", err)
		}

		return &RegisteredEvent{ID: id, Owner: owner, Name: name}, nil
	}
	return nil, fmt.Errorf("no registration event found in %d logs", len(logs))
}

// DecodeABIString decodes a single ABI-encoded string from an event data
// section: a 32-byte offset (normally 0x20), a 32-byte length, then the
// UTF-8 bytes padded to a 32-byte boundary. The same layout decodes any
// single-dynamic-field event.
func DecodeABIString(data []byte) (string, error) {
	if len(data) < 64 {
		return "", fmt.Errorf("data too short for ABI string: %d bytes", len(data))
	}

	// Compare before adding: offset and length words near 2^64 would wrap
	// the sums and slip past a check written as offset+32 > len.
	size := uint64(len(data))
	offset := new(big.Int).SetBytes(data[:32])
	if !offset.IsUint64() || offset.Uint64() > size-32 {
		return "", fmt.Errorf("string offset %s out of range", offset)
	}
	start := offset.Uint64()

	length := new(big.Int).SetBytes(data[start : start+32])
	if !length.IsUint64() || length.Uint64() > size-start-32 {
		return "", fmt.Errorf("string length %s out of range", length)
	}

	return string(data[start+32 : start+32+length.Uint64()]), nil
}

// decodeTopicUint parses an indexed uint256 topic.
func decodeTopicUint(topic string) (*big.Int, error) {
	raw, err := hexBytes(topic)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("topic must be 32 bytes, got %d", len(raw))
	}
	return new(big.Int).SetBytes(raw), nil
}

// decodeTopicAddress parses an indexed address topic: a 20-byte address
// right-aligned in 32 bytes.
func decodeTopicAddress(topic string) (common.Address, error) {
	raw, err := hexBytes(topic)
	if err != nil {
		return common.Address{}, err
	}
	if len(raw) != 32 {
		return common.Address{}, fmt.Errorf("topic must be 32 bytes, got %d", len(raw))
	}
	return common.BytesToAddress(raw[12:]), nil
}

// hexBytes decodes a 0x-prefixed hex string.
func hexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
