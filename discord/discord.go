// Package discord provides the small set of Discord structures that the voice
// packages share: typed snowflake IDs, wire durations and voice state.
package discord
