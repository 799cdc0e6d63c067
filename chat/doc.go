// Package chat turns Twitch chat into combo events.
//
// It provides two entrypoints:
//   - Normalizer: recognizes one-tap gift redemptions (USERNOTICE with
//     msg-id=onetapgiftredeemed), bit cheers whose text names a category and,
//     in dev mode, the #heart, #hearts and #horselul chat triggers. It also
//     parses raw IRC lines for the simulation endpoint.
//   - StartAutoListener: joins a channel anonymously and keeps the connection
//     alive, forwarding every recognized event to a Sink.
//
// Chat is read only, so no OAuth token or bot account is needed.
package chat
