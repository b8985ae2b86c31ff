// Package wire converts between the canonical domain types and the JSON
// payloads exchanged on a session channel.
//
// Two independently built clients share the channel and name the same fields
// differently. Inbound payloads are accepted in either naming. When both
// names are present the other client's naming wins:
//
//	chat id          messageId   > id           (fabricated when both are missing)
//	session          session_id  > sessionId
//	sender           sender_id   > senderId
//	sender name      sender_name > senderName
//	content          encrypted_content > encryptedContent
//	message type     message_type > messageType (defaults to "text")
//	timestamp        created_at  > timestamp    (defaults to receive time)
//
//	presence id      userId      > id
//	presence name    userName    > name
//	presence joined  onlineAt    > joinedAt
//
// Outbound payloads always carry both namings with identical values.
// Timestamps leave as integer epoch milliseconds whatever their source type.
//
// Whiteboard data travels as a flat string to string map because one client
// transport only supports flat maps. Point lists and id lists are JSON encoded
// into a single string value:
//
//	draw   id, points ([{"x":..,"y":..}]), color, width
//	text   id, x, y, text, color, fontSize
//	erase  id, targetIds (["id", ...])
//	clear  id
//
// A payload missing a required discriminant fails with
// errors.ErrMalformedWirePayload; callers drop it with a warning.
package wire
