package metadump

// Version of the library and tools.
const Version = "0.1.0"
