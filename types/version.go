package types

// Version is the canonical project version.
// The CLI, transcript format and notification payloads share it.
const Version = "0.3.0"
