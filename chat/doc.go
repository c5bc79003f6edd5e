// Package chat owns the joined-channel state of a session and turns EventSub
// chat notifications into renderable records.
//
// It provides three pieces, all driven from a single goroutine:
//   - Store and Registry: the channels that have been joined and the EventSub
//     subscription ids registered for each of them.
//   - Manager: join, part, mute, ignore and purge operations, revocation
//     handling and outgoing chat messages. Notices about these operations are
//     appended to the Output like any other record.
//   - Pipeline: filters channel.chat.message events (ignore list, bot commands,
//     muted or unknown channels) and resolves their fragments into links,
//     emotes, mentions and cheermotes using the metadata Resolver.
//
// None of the types in this package are safe for concurrent use; the client
// event loop serializes every call.
package chat
