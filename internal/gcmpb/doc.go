// Package gcmpb encodes and decodes the subset of the GCM checkin and MCS
// protobuf messages used by the fcm client.
//
// Field numbers follow checkin.proto / android_checkin.proto and mcs.proto
// from Chromium's google_apis/gcm. Only the fields the client reads or
// writes are modelled; unknown fields are skipped on decode.
package gcmpb
