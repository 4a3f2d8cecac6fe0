package types

// Version is the canonical project version.
// The CLI, the worker binary and the IPC contract share this version.
const Version = "0.3.0"

// IPCVersion is the worker wire protocol version. Requests and responses
// carrying a different ipc_version are rejected on both ends.
const IPCVersion = "1"

// RuntimeVersion identifies the program execution runtime. Persisted
// artifacts written under a different runtime version are never executed.
const RuntimeVersion = "yaegi-0.16/run-v1"
