package discovery

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeNodeTXT creates TXT records for a node.
func EncodeNodeTXT(info *NodeInfo) TXTRecordMap {
	txt := TXTRecordMap{TXTKeyNodeID: strings.ToLower(info.NodeID)}
	if info.Path != "" {
		txt[TXTKeyPath] = info.Path
	}
	if info.NonceScheme != "" {
		txt[TXTKeyNonce] = info.NonceScheme
	}
	if info.AAD != "" {
		txt[TXTKeyAAD] = info.AAD
	}
	return txt
}

// DecodeNodeTXT parses node TXT records.
func DecodeNodeTXT(txt TXTRecordMap) (*NodeInfo, error) {
	id, ok := txt[TXTKeyNodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyNodeID)
	}
	if err := validateNodeID(id); err != nil {
		return nil, err
	}
	return &NodeInfo{
		NodeID:      id,
		Path:        txt[TXTKeyPath],
		NonceScheme: txt[TXTKeyNonce],
		AAD:         txt[TXTKeyAAD],
	}, nil
}

func validateNodeID(id string) error {
	b, err := hex.DecodeString(id)
	if err != nil || len(b) != 8 {
		return fmt.Errorf("%w: %q", ErrInvalidNodeID, id)
	}
	return nil
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if found || k != "" {
			txt[k] = v
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}

func joinHostPort(host string, port uint16) string {
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
