package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the device
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// TimestampLayout is the producer-local, second-resolution layout used for
// record timestamps everywhere (stores, batch files, payloads).
const TimestampLayout = "2006-01-02 15:04:05"

// CurrentSchemaVersion is the record schema version this build understands.
const CurrentSchemaVersion = 1
