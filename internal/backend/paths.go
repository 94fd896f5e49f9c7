// internal/backend/paths.go
package backend

import "fmt"

// Effect kinds understood by the runtime.
const (
	EffectTokenTransfer    = "token/transfer"
	EffectFaucetSetEnabled = "faucet/setEnabled"
	EffectFaucetDrip       = "faucet/drip"
	EffectNetworkRegister  = "networks/register"
	EffectNodeRegister     = "nodes/register"
	EffectPKISetDocument   = "pki/setDocument"
	EffectPKISetMixDesc    = "pki/setMixDescriptor"
)

// BalancePath is the state path for an address's token balance.
func BalancePath(address string) string {
	return "token/balance/" + address
}

// NoncePath is the state path for an address's next expected nonce.
func NoncePath(address string) string {
	return "nonce/" + address
}

// FaucetEnabledPath is the state path for the faucet switch.
func FaucetEnabledPath() string {
	return "faucet/enabled"
}

// NetworkPath is the state path for a registered network record.
func NetworkPath(id string) string {
	return "networks/" + id
}

// NodePath is the state path for a registered node record.
func NodePath(id string) string {
	return "nodes/" + id
}

// PKIDocumentPath is the state path for a PKI document at an epoch.
func PKIDocumentPath(epoch uint64) string {
	return fmt.Sprintf("pki/doc/%d", epoch)
}

// PKIGenesisEpochPath is the state path for the genesis epoch number.
func PKIGenesisEpochPath() string {
	return "pki/genesisEpoch"
}

// MixDescriptorPath is the state path for one mix descriptor record,
// keyed by epoch and node identifier.
func MixDescriptorPath(epoch uint64, identifier string) string {
	return fmt.Sprintf("pki/mix/%d/desc/%s", epoch, identifier)
}

// MixDescriptorIndexPath maps an insertion-order index within an epoch
// back to the descriptor's identifier.
func MixDescriptorIndexPath(epoch, index uint64) string {
	return fmt.Sprintf("pki/mix/%d/index/%d", epoch, index)
}

// MixDescriptorCounterPath is the state path for the number of distinct
// descriptors published in an epoch.
func MixDescriptorCounterPath(epoch uint64) string {
	return fmt.Sprintf("pki/mix/%d/count", epoch)
}
