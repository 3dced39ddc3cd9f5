package discovery

import (
	"fmt"
	"strings"

	"github.com/scooked-app/scooked-go/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeStoreTXT creates TXT records for store advertisements.
func EncodeStoreTXT(info *StoreInfo) TXTRecordMap {
	v := info.Version
	if v == "" {
		v = version.Current
	}
	return TXTRecordMap{
		TXTKeyVersion: v,
		TXTKeyScope:   info.Scope,
		TXTKeyStoreID: info.StoreID,
	}
}

// DecodeStoreTXT parses TXT records from a store advertisement. All
// three keys are required and the version must parse as "major.minor".
func DecodeStoreTXT(txt TXTRecordMap) (*StoreInfo, error) {
	info := &StoreInfo{}

	var ok bool
	info.Version, ok = txt[TXTKeyVersion]
	if !ok || info.Version == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	if _, err := version.Parse(info.Version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTXTRecord, err)
	}

	info.Scope, ok = txt[TXTKeyScope]
	if !ok || info.Scope == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyScope)
	}

	info.StoreID, ok = txt[TXTKeyStoreID]
	if !ok || info.StoreID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyStoreID)
	}

	return info, nil
}

// CompatibleVersion checks an advertised version string against the
// version implemented by this library. Only the major version must
// match.
func CompatibleVersion(raw string) error {
	advertised, err := version.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTXTRecord, err)
	}
	current, err := version.Parse(version.Current)
	if err != nil {
		return err
	}
	if !current.Compatible(advertised) {
		return fmt.Errorf("%w: %s (current %s)", ErrIncompatibleVersion, raw, version.Current)
	}
	return nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value"
// strings, the format mDNS libraries use.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a
// TXTRecordMap. A key without '=' becomes a key with an empty value.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrMissingRequired)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
