package types

// Version is the canonical project version.
// The CLI, the wire protocol and the dataset layout share this version.
const Version = "0.1.0"

// ContractVersion is stamped on published events and dataset metadata.
// It moves in lockstep with Version.
const ContractVersion = Version
