package types

// Version is the canonical project version.
// The relay binary and the notification contract share this version.
const Version = "0.3.0"

// ContractVersion is the version stamped on published cycle events.
// Kept in lockstep with Version.
const ContractVersion = Version
